package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/testutil"
)

// createTestStore opens a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecordingEngine(t *testing.T, s *Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithSink(s),
	}
	return engine.New(append(base, opts...)...)
}

func approvalProcess(t *testing.T) *bpmn.Process {
	t.Helper()
	p, err := bpmn.NewBuilder("approval").
		StartEvent("start").
		ExclusiveGateway("route").
		Task("approve").
		EndEvent("end").
		Flow("start", "route").
		Flow("route", "approve", bpmn.WithCondition(bpmn.Equals("amount", "high"))).
		Flow("route", "end", bpmn.AsDefault()).
		Flow("approve", "end").
		Build()
	require.NoError(t, err)
	return p
}
