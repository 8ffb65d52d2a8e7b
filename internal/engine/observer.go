package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// Observer receives engine callbacks for logging and metrics.
//
// Callbacks run on the goroutine that drove the instance, after its lock
// was released. Implementations should return quickly.
type Observer interface {
	// OnInstanceStarted is called once an instance is registered.
	OnInstanceStarted(ctx context.Context, inst *bpmn.Instance)
	// OnTransition is called for every applied outcome, including those of
	// Complete and message delivery.
	OnTransition(ctx context.Context, inst *bpmn.Instance, out bpmn.Outcome)
	// OnInstanceCompleted is called when the last token of an instance is
	// consumed.
	OnInstanceCompleted(ctx context.Context, inst *bpmn.Instance)
	// OnInstanceFailed is called when a transition error terminates an
	// instance.
	OnInstanceFailed(ctx context.Context, inst *bpmn.Instance, err error)
	// OnMessageDelivered is called after every Send with the number of
	// deliveries it made.
	OnMessageDelivered(ctx context.Context, msg bpmn.Message, deliveries int)
}

// NoopObserver ignores every callback. It is the default.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(context.Context, *bpmn.Instance)          {}
func (NoopObserver) OnTransition(context.Context, *bpmn.Instance, bpmn.Outcome) {}
func (NoopObserver) OnInstanceCompleted(context.Context, *bpmn.Instance)        {}
func (NoopObserver) OnInstanceFailed(context.Context, *bpmn.Instance, error)    {}
func (NoopObserver) OnMessageDelivered(context.Context, bpmn.Message, int)      {}

// CompositeObserver fans callbacks out to several observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver combines the non-nil observers in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *bpmn.Instance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, inst *bpmn.Instance, out bpmn.Outcome) {
	for _, o := range c.observers {
		o.OnTransition(ctx, inst, out)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *bpmn.Instance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *bpmn.Instance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnMessageDelivered(ctx context.Context, msg bpmn.Message, n int) {
	for _, o := range c.observers {
		o.OnMessageDelivered(ctx, msg, n)
	}
}

// LoggingObserver writes instance lifecycle at Info and transitions at
// Debug.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver returns a LoggingObserver; a nil logger means
// slog.Default().
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *bpmn.Instance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("process", inst.Process().ID),
		slog.String("instance_id", inst.ID()),
	)
}

func (o *LoggingObserver) OnTransition(ctx context.Context, inst *bpmn.Instance, out bpmn.Outcome) {
	o.Logger.DebugContext(ctx, "transition",
		slog.String("instance_id", inst.ID()),
		slog.String("node_id", out.Node),
		slog.String("transition", out.Transition),
		slog.Int("events", len(out.Events)),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *bpmn.Instance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("process", inst.Process().ID),
		slog.String("instance_id", inst.ID()),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *bpmn.Instance, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("process", inst.Process().ID),
		slog.String("instance_id", inst.ID()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnMessageDelivered(ctx context.Context, msg bpmn.Message, n int) {
	o.Logger.DebugContext(ctx, "message_delivered",
		slog.String("message", msg.ID),
		slog.String("kind", msg.Kind.String()),
		slog.Int("deliveries", n),
	)
}

// Metrics counts engine activity. It embeds NoopObserver so it can be
// combined with other observers through NewCompositeObserver.
type Metrics struct {
	NoopObserver

	started     atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	transitions atomic.Int64
	events      atomic.Int64
	deliveries  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	InstancesRunning   int64

	Transitions       int64
	Events            int64
	MessageDeliveries int64
}

func (m *Metrics) OnInstanceStarted(context.Context, *bpmn.Instance) {
	m.started.Add(1)
}

func (m *Metrics) OnTransition(_ context.Context, _ *bpmn.Instance, out bpmn.Outcome) {
	m.transitions.Add(1)
	m.events.Add(int64(len(out.Events)))
}

func (m *Metrics) OnInstanceCompleted(context.Context, *bpmn.Instance) {
	m.completed.Add(1)
}

func (m *Metrics) OnInstanceFailed(context.Context, *bpmn.Instance, error) {
	m.failed.Add(1)
}

func (m *Metrics) OnMessageDelivered(_ context.Context, _ bpmn.Message, n int) {
	m.deliveries.Add(int64(n))
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	started := m.started.Load()
	completed := m.completed.Load()
	failed := m.failed.Load()
	return MetricsSnapshot{
		InstancesStarted:   started,
		InstancesCompleted: completed,
		InstancesFailed:    failed,
		InstancesRunning:   started - completed - failed,
		Transitions:        m.transitions.Load(),
		Events:             m.events.Load(),
		MessageDeliveries:  m.deliveries.Load(),
	}
}
