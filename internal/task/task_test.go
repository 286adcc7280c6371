package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusPending, StatusInProgress, false},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusFailed, false},
		{StatusPending, StatusPending, true},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusAssigned.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
}

func TestMetadataMarshalRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	m := Metadata{
		AssignedAgentID:   "agent_2",
		Response:          "done",
		ResponseUpdatedAt: &now,
		LastAgent:         "agent_2",
		Result:            &ResultPayload{Stdout: "ok", ExitCode: 0, DurationMS: 120},
		Extra: map[string]json.RawMessage{
			"custom_field": json.RawMessage(`"value"`),
		},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var flat map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &flat))
	_, ok := flat["custom_field"]
	assert.True(t, ok, "unknown key must be flattened alongside known fields, not nested")

	var roundTripped Metadata
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, m.AssignedAgentID, roundTripped.AssignedAgentID)
	assert.Equal(t, m.Response, roundTripped.Response)
	assert.Equal(t, m.LastAgent, roundTripped.LastAgent)
	require.NotNil(t, roundTripped.Result)
	assert.Equal(t, *m.Result, *roundTripped.Result)
	require.Contains(t, roundTripped.Extra, "custom_field")
}

func TestMetadataUnmarshalUnknownKeyGoesToExtra(t *testing.T) {
	data := []byte(`{"response":"hi","some_future_field":42}`)
	var m Metadata
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "hi", m.Response)
	require.Contains(t, m.Extra, "some_future_field")
	assert.JSONEq(t, "42", string(m.Extra["some_future_field"]))
}

func TestMetadataMergePreservesUntouchedFields(t *testing.T) {
	base := Metadata{
		AssignedAgentID: "agent_1",
		Response:        "first response",
		Extra:           map[string]json.RawMessage{"k1": json.RawMessage(`1`)},
	}
	patch := Metadata{
		Response: "second response",
		Extra:    map[string]json.RawMessage{"k2": json.RawMessage(`2`)},
	}
	base.Merge(patch)

	assert.Equal(t, "agent_1", base.AssignedAgentID, "fields absent from patch must survive")
	assert.Equal(t, "second response", base.Response)
	assert.Contains(t, base.Extra, "k1")
	assert.Contains(t, base.Extra, "k2")
}

func TestMetadataMergeCancelRequestedIsStickyTrue(t *testing.T) {
	base := Metadata{CancelRequested: true}
	base.Merge(Metadata{CancelRequested: false})
	assert.True(t, base.CancelRequested, "merging a false patch must not clear an already-set flag")
}

func TestApplyTransitionOptions(t *testing.T) {
	p := ApplyTransitionOptions([]TransitionOption{
		WithTransitionReason("claimed"),
		WithTransitionMetadata(Metadata{LastAgent: "agent_3"}),
		WithTransitionAgentID("agent_3"),
	})
	assert.Equal(t, "claimed", p.Reason)
	assert.Equal(t, "agent_3", p.MetadataPatch.LastAgent)
	require.NotNil(t, p.AgentIDOverride)
	assert.Equal(t, "agent_3", *p.AgentIDOverride)
}
