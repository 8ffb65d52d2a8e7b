package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Instance: "a", Type: "EVENT_TRIGGERED", Node: "start"},
		{Seq: 2, Instance: "b", Type: "EVENT_TRIGGERED", Node: "start"},
		{Seq: 3, Instance: "a", Type: "ACTIVITY_ACTIVATED", Node: "work"},
		{Seq: 4, Instance: "a", Type: "ACTIVITY_COMPLETED", Node: "work"},
		{Seq: 5, Instance: "b", Type: "ACTIVITY_ACTIVATED", Node: "work"},
	}
}

func TestAssertEventCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventCount(trace, Assertion{Event: "EVENT_TRIGGERED", Count: 2}))
	assert.NoError(t, assertEventCount(trace, Assertion{Event: "ACTIVITY_ACTIVATED", Instance: "b", Count: 1}))
	assert.NoError(t, assertEventCount(trace, Assertion{Event: "ACTIVITY_CANCELLED", Count: 0}))

	err := assertEventCount(trace, Assertion{Event: "ACTIVITY_COMPLETED", Count: 2})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertEventCount, ae.Type)
	assert.Equal(t, "1", ae.Actual)
}

func TestAssertEventOrder(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		a       Assertion
		wantErr bool
	}{
		{"subsequence", Assertion{Events: []string{"EVENT_TRIGGERED", "ACTIVITY_COMPLETED"}}, false},
		{"per instance", Assertion{Instance: "b", Events: []string{"EVENT_TRIGGERED", "ACTIVITY_ACTIVATED"}}, false},
		{"repeated type", Assertion{Events: []string{"ACTIVITY_ACTIVATED", "ACTIVITY_ACTIVATED"}}, false},
		{"wrong order", Assertion{Events: []string{"ACTIVITY_COMPLETED", "EVENT_TRIGGERED"}}, true},
		{"other instance only", Assertion{Instance: "b", Events: []string{"ACTIVITY_COMPLETED"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertEventOrder(trace, tt.a)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "2 EVENT_TRIGGERED events",
		Actual:   "1",
		Trace:    sampleTrace()[:1],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_count")
	assert.Contains(t, msg, "Expected: 2 EVENT_TRIGGERED events")
	assert.Contains(t, msg, "[1] a EVENT_TRIGGERED start")
}

func TestEvaluateAssertions_StateChecks(t *testing.T) {
	s := loadTestScenario(t, "message_correlation")
	s.Assertions = []Assertion{
		{Type: AssertInstanceStatus, Instance: "buyer", Status: "ACTIVE"},
		{Type: AssertData, Instance: "seller", Expect: map[string]any{"sku": "X2"}},
		{Type: AssertTokensAt, Instance: "seller", Node: "ship", Count: 1},
		{Type: AssertSubscriptions, Count: 1},
		{Type: AssertEventCount, Event: "EVENT_TRIGGERED", Count: 5},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[1], "assertions[1]")
	assert.Contains(t, result.Errors[2], "assertions[2]")
	assert.Contains(t, result.Errors[3], "assertions[3]")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(NewResult(), []Assertion{{Type: "trace_contains"}}, &AssertionContext{})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "trace_contains"`)
}
