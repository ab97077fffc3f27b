package packet

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	before := time.Now().UTC()
	p := New("HARVESTER", IntentGraphUpdate)

	assert.Equal(t, "HARVESTER", p.Sender)
	assert.Equal(t, PartyBroadcast, p.Recipient)
	assert.Equal(t, IntentGraphUpdate, p.Intent)
	assert.Equal(t, Content{}, p.Content)
	assert.False(t, p.Timestamp.Before(before), "timestamp should be assigned at construction")
	assert.Equal(t, time.UTC, p.Timestamp.Location())

	_, err := uuid.Parse(p.CorrelationID)
	assert.NoError(t, err, "correlation id should be a UUID")
	assert.NoError(t, p.Validate())
}

func TestNew_Options(t *testing.T) {
	p := New(PartyCoordinator, IntentTaskStart,
		To("CRITIC"),
		WithContent(Content{RoundID: "r1", Stage: "CRITIC"}),
		WithCorrelationID("corr-1"),
	)

	assert.Equal(t, "CRITIC", p.Recipient)
	assert.Equal(t, "r1", p.Content.RoundID)
	assert.Equal(t, "corr-1", p.CorrelationID)
}

func TestNew_EmptyRecipientStaysBroadcast(t *testing.T) {
	p := New("OBSERVER", IntentInfo, To(""), WithCorrelationID(""))
	assert.True(t, p.IsBroadcast())
	assert.NotEmpty(t, p.CorrelationID)
}

func TestNew_CorrelationIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		p := New("SYSTEM", IntentInfo)
		require.False(t, seen[p.CorrelationID], "duplicate correlation id %s", p.CorrelationID)
		seen[p.CorrelationID] = true
	}
}

func TestReply_PropagatesCorrelation(t *testing.T) {
	req := New(PartyCoordinator, IntentTaskStart, To("HARVESTER"))
	reply := Reply(req, "HARVESTER", IntentStageDone, Content{Stage: "HARVESTER"})

	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.Equal(t, PartyCoordinator, reply.Recipient)
	assert.Equal(t, "HARVESTER", reply.Sender)
}

func TestPacketValidate(t *testing.T) {
	valid := New("SYSTEM", IntentInfo)

	tests := []struct {
		name    string
		mutate  func(*Packet)
		wantErr string
	}{
		{"valid packet", func(p *Packet) {}, ""},
		{"empty sender", func(p *Packet) { p.Sender = "" }, "sender cannot be empty"},
		{"empty intent", func(p *Packet) { p.Intent = "" }, "invalid intent"},
		{"unknown intent", func(p *Packet) { p.Intent = "GOSSIP" }, "unknown intent"},
		{"empty recipient", func(p *Packet) { p.Recipient = "" }, "recipient cannot be empty"},
		{"empty correlation", func(p *Packet) { p.CorrelationID = "" }, "correlationId cannot be empty"},
		{"zero timestamp", func(p *Packet) { p.Timestamp = time.Time{} }, "timestamp cannot be zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIntent_ValidateCoversDeclaredSet(t *testing.T) {
	for _, i := range Intents {
		assert.NoError(t, i.Validate(), "intent %s", i)
	}
	assert.Error(t, Intent("info").Validate(), "intents are case-sensitive")
}

func TestIntent_ResultBearing(t *testing.T) {
	assert.True(t, IntentGraphUpdate.ResultBearing())
	assert.True(t, IntentHypothesis.ResultBearing())
	assert.True(t, IntentTaskComplete.ResultBearing())
	assert.True(t, IntentError.ResultBearing())
	assert.False(t, IntentStageDone.ResultBearing())
	assert.False(t, IntentInfo.ResultBearing())
	assert.False(t, IntentRoundStart.ResultBearing())
}

func TestContent_ResultIntent(t *testing.T) {
	assert.Equal(t, IntentHypothesis, Content{Hypothesis: &Hypothesis{ID: "h1"}}.ResultIntent())
	assert.Equal(t, IntentGraphUpdate, Content{Concept: &Concept{ID: "c1"}}.ResultIntent())
}

func TestTaskInput_Accessors(t *testing.T) {
	in := TaskInput{Results: []Content{
		{Concept: &Concept{ID: "c1", Term: "GDPR"}},
		{Domain: &Domain{ID: "d1", Name: "legal"}},
		{Concept: &Concept{ID: "c2", Term: "Paris"}},
	}}

	concepts := in.Concepts()
	require.Len(t, concepts, 2)
	assert.Equal(t, "c1", concepts[0].ID)
	assert.Equal(t, "c2", concepts[1].ID)

	domains := in.Domains()
	require.Len(t, domains, 1)
	assert.Equal(t, "legal", domains[0].Name)
}
