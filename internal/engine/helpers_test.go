package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
		WithLogger(discardLogger()),
	}
	return New(append(base, opts...)...)
}

func mustBuild(t *testing.T, b *bpmn.Builder) *bpmn.Process {
	t.Helper()
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func mustCreate(t *testing.T, e *Engine, p *bpmn.Process, data map[string]any) *bpmn.Instance {
	t.Helper()
	inst, err := e.CreateExecutionInstance(p, bpmn.NewMapStore(data))
	require.NoError(t, err)
	return inst
}

// takeEvents returns the event types logged so far and clears the log.
func takeEvents(e *Engine) []bpmn.EventType {
	types := bpmn.EventTypes(e.Events())
	e.ClearEvents()
	return types
}

func eventsOf(events []bpmn.Event, instanceID string) []bpmn.EventType {
	var out []bpmn.EventType
	for _, ev := range events {
		if ev.Instance == instanceID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func onlyToken(t *testing.T, inst *bpmn.Instance, node string) bpmn.Token {
	t.Helper()
	toks := inst.Tokens(node)
	require.Len(t, toks, 1, "tokens at %s", node)
	return toks[0]
}

// memorySink records what the engine persists.
type memorySink struct {
	mu      sync.Mutex
	batches [][]bpmn.Event
	records []InstanceRecord
}

func (s *memorySink) RecordInstance(_ context.Context, rec InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) AppendEvents(_ context.Context, events []bpmn.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return nil
}

func (s *memorySink) Records() []InstanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InstanceRecord(nil), s.records...)
}

func (s *memorySink) Batches() [][]bpmn.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]bpmn.Event(nil), s.batches...)
}
