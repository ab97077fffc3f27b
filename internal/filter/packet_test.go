package filter

import (
	"testing"
	"time"

	"github.com/dyluth/lodge/internal/timespec"
	"github.com/dyluth/lodge/pkg/packet"
	"github.com/stretchr/testify/assert"
)

func TestCriteria_Matches(t *testing.T) {
	base := time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)
	p := packet.New("HARVESTER", packet.IntentTaskComplete, packet.WithContent(packet.Content{RoundID: "r1"}))
	p.Timestamp = base

	tests := []struct {
		name     string
		criteria Criteria
		expected bool
	}{
		{"no filter", Criteria{}, true},
		{"inside window", Criteria{Window: timespec.Range{Since: base.Add(-time.Minute), Until: base.Add(time.Minute)}}, true},
		{"before window", Criteria{Window: timespec.Range{Since: base.Add(time.Minute)}}, false},
		{"after window", Criteria{Window: timespec.Range{Until: base.Add(-time.Minute)}}, false},
		{"intent glob match", Criteria{IntentGlob: "TASK_*"}, true},
		{"intent exact", Criteria{IntentGlob: "TASK_COMPLETE"}, true},
		{"intent glob miss", Criteria{IntentGlob: "GRAPH_*"}, false},
		{"sender match", Criteria{Sender: "HARVESTER"}, true},
		{"sender miss", Criteria{Sender: "CRITIC"}, false},
		{"round match", Criteria{RoundID: "r1"}, true},
		{"round miss", Criteria{RoundID: "r2"}, false},
		{"combined", Criteria{IntentGlob: "TASK_*", Sender: "HARVESTER", RoundID: "r1"}, true},
		{"combined one miss", Criteria{IntentGlob: "TASK_*", Sender: "CRITIC", RoundID: "r1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.criteria.Matches(p))
			assert.Equal(t, tt.expected, tt.criteria.Bus()(p), "bus filter agrees")
		})
	}
}

func TestCriteria_HasFilters(t *testing.T) {
	assert.False(t, (&Criteria{}).HasFilters())
	assert.True(t, (&Criteria{Sender: "A"}).HasFilters())
	assert.True(t, (&Criteria{Window: timespec.Range{Since: time.Now()}}).HasFilters())
}

func TestCriteria_Validate(t *testing.T) {
	assert.NoError(t, (&Criteria{}).Validate())
	assert.NoError(t, (&Criteria{IntentGlob: "*_DONE"}).Validate())
	assert.ErrorContains(t, (&Criteria{IntentGlob: "["}).Validate(), "invalid intent pattern")
}
