package bpmn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ichavezg/nayra/internal/testutil"
)

func newTestInstance(t *testing.T, p *Process, data map[string]any) *Instance {
	t.Helper()
	gen := testutil.NewSequenceGenerator("tok")
	inst, err := NewInstance("inst-1", p, NewMapStore(data), gen.Generate)
	require.NoError(t, err)
	return inst
}

// drain steps inst until nothing is enabled and returns every event emitted.
func drain(t *testing.T, inst *Instance) []Event {
	t.Helper()
	var events []Event
	for range 1000 {
		out, ok, err := inst.Step()
		require.NoError(t, err)
		if !ok {
			return events
		}
		events = append(events, out.Events...)
	}
	t.Fatal("instance did not settle")
	return nil
}

func mustBuild(t *testing.T, b *Builder) *Process {
	t.Helper()
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func sequenceProcess(t *testing.T) *Process {
	return mustBuild(t, NewBuilder("seq").
		StartEvent("start").
		Task("work").
		EndEvent("end").
		Flow("start", "work").
		Flow("work", "end"))
}
