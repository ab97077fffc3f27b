package resolver

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dyluth/lodge/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withID(id string, intent packet.Intent) packet.Packet {
	return packet.New("A", intent, packet.WithCorrelationID(id))
}

func TestResolveCorrelationID(t *testing.T) {
	packets := []packet.Packet{
		withID("abc12345-0000-0000-0000-000000000001", packet.IntentTaskStart),
		withID("abc12399-0000-0000-0000-000000000002", packet.IntentInfo),
		withID("abc12345-0000-0000-0000-000000000001", packet.IntentStageDone),
	}

	t.Run("unique prefix returns request and reply", func(t *testing.T) {
		id, matched, err := ResolveCorrelationID(packets, "ABC123 45")
		require.Error(t, err, "whitespace inside the prefix does not match")
		assert.Empty(t, id)
		assert.Nil(t, matched)

		id, matched, err = ResolveCorrelationID(packets, "abc12345")
		require.NoError(t, err)
		assert.Equal(t, "abc12345-0000-0000-0000-000000000001", id)
		require.Len(t, matched, 2)
		assert.Equal(t, packet.IntentTaskStart, matched[0].Intent)
		assert.Equal(t, packet.IntentStageDone, matched[1].Intent)
	})

	t.Run("case insensitive", func(t *testing.T) {
		_, matched, err := ResolveCorrelationID(packets, "ABC12399")
		require.NoError(t, err)
		assert.Len(t, matched, 1)
	})

	t.Run("too short", func(t *testing.T) {
		_, _, err := ResolveCorrelationID(packets, "abc")
		assert.ErrorContains(t, err, "at least 6 characters")
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := ResolveCorrelationID(packets, "ffffff")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, _, err := ResolveCorrelationID(packets, "abc123")
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.Equal(t, []string{
			"abc12345-0000-0000-0000-000000000001",
			"abc12399-0000-0000-0000-000000000002",
		}, amb.Matches)
	})
}

func TestFormatAmbiguousError(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, fmt.Sprintf("abc123-%02d", i))
	}

	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: matches})
	assert.Contains(t, msg, "matches 12 correlation ids")
	assert.Contains(t, msg, "abc123-09")
	assert.NotContains(t, msg, "abc123-10")
	assert.Contains(t, msg, "...and 2 more")
	assert.True(t, strings.HasSuffix(msg, "uniquely identify the packet."))
}
