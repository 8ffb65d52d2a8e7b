package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/collab"
	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/store"
	"github.com/ichavezg/nayra/internal/testutil"
)

// settleTimeout bounds how long a concurrent run may take to go idle.
const settleTimeout = 10 * time.Second

// Option configures a scenario run.
type Option func(*options)

type options struct {
	storePath string
	workers   int
	maxSteps  int
	logger    *slog.Logger
	scheduler collab.Scheduler
}

// WithStorePath persists the run to a SQLite database at path instead of a
// private in-memory one.
func WithStorePath(path string) Option {
	return func(o *options) { o.storePath = path }
}

// WithWorkers drives the scenario with the engine's worker pool instead of
// RunToNextState. Run steps then wait for the pool to go idle.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithMaxSteps sets the engine's per-activation step quota in worker
// mode. The default is engine.DefaultMaxSteps; n < 1 keeps it.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithScheduler sets the scheduler of delay steps. The default is a
// collab.TimerScheduler.
func WithScheduler(s collab.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithLogger sets the engine logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Harness executes one scenario against a fresh engine and store.
type Harness struct {
	scenario  *Scenario
	engine    *engine.Engine
	store     *store.Store
	logger    *slog.Logger
	workers   int
	processes map[string]*bpmn.Process
	fired     chan bpmn.Message
	metrics   *engine.Metrics

	// aliases maps create-step aliases to instance IDs; names is the reverse.
	aliases map[string]string
	names   map[string]string
	order   []string

	// cursor is the number of log events already matched by expect steps.
	cursor int
	result *Result
}

// Run executes a scenario and returns its result. A returned error means
// the scenario could not be executed at all; failed expectations are
// reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run with a context bounding concurrent runs.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		storePath: ":memory:",
		maxSteps:  engine.DefaultMaxSteps,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		scheduler: collab.NewTimerScheduler(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(o.storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	processes := make(map[string]*bpmn.Process, len(scenario.Processes))
	for _, def := range scenario.Processes {
		p, err := def.Build()
		if err != nil {
			return nil, fmt.Errorf("build process %s: %w", def.ID, err)
		}
		processes[def.ID] = p
	}

	h := &Harness{
		scenario:  scenario,
		store:     st,
		logger:    o.logger,
		workers:   o.workers,
		processes: processes,
		aliases:   make(map[string]string),
		names:     make(map[string]string),
		fired:     make(chan bpmn.Message, 16),
		metrics:   &engine.Metrics{},
		result:    NewResult(),
	}
	bus := collab.New(
		collab.WithScheduler(&notifyingScheduler{inner: o.scheduler, fired: h.fired}),
		collab.WithLogger(o.logger),
	)
	h.engine = engine.New(
		engine.WithCollaboration(bus),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithSink(st),
		engine.WithLogger(o.logger),
		engine.WithObserver(engine.NewCompositeObserver(engine.NewLoggingObserver(o.logger), h.metrics)),
		engine.WithMaxSteps(o.maxSteps),
	)

	var stop func() error
	if h.workers > 0 {
		stop = h.startWorkers(ctx)
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			if stop != nil {
				_ = stop()
			}
			return nil, err
		}
	}
	if err := h.settle(ctx); err != nil {
		return nil, err
	}
	if stop != nil {
		if err := stop(); err != nil {
			return nil, err
		}
	}

	h.collect()

	actx := &AssertionContext{
		Ctx:     ctx,
		Engine:  h.engine,
		Store:   st,
		Aliases: h.aliases,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// startWorkers runs the engine pool in the background. The returned
// function stops it and reports an unexpected exit.
func (h *Harness) startWorkers(ctx context.Context) func() error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx, h.workers) }()
	return func() error {
		h.engine.Stop()
		err := <-done
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine run: %w", err)
		}
		return nil
	}
}

// settle waits for the worker pool to go idle. It is a no-op in
// deterministic mode.
func (h *Harness) settle(ctx context.Context) error {
	if h.workers == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := h.engine.WaitIdle(ctx); err != nil {
		return fmt.Errorf("engine did not settle: %w", err)
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) error {
	switch {
	case step.Create != nil:
		return h.create(i, step.Create)
	case step.Run != nil:
		return h.run(ctx, i, step.Run)
	case step.Complete != nil:
		return h.tokenOp(ctx, i, StepComplete, step.Complete, h.engine.Complete)
	case step.Cancel != nil:
		return h.tokenOp(ctx, i, StepCancel, step.Cancel, h.engine.Cancel)
	case step.Send != nil:
		return h.send(i, step.Send)
	case step.Delay != nil:
		return h.delay(ctx, i, step.Delay)
	case step.Put != nil:
		return h.put(ctx, i, step.Put)
	case step.Expect != nil:
		return h.expect(ctx, i, step.Expect)
	}
	return fmt.Errorf("steps[%d]: no action", i)
}

func (h *Harness) create(i int, c *CreateStep) error {
	p, ok := h.processes[c.Process]
	if !ok {
		return fmt.Errorf("steps[%d].create: unknown process %q", i, c.Process)
	}
	inst, err := h.engine.CreateExecutionInstance(p, bpmn.NewMapStore(c.Data))
	if err != nil {
		return fmt.Errorf("steps[%d].create: %w", i, err)
	}
	h.aliases[c.As] = inst.ID()
	h.names[inst.ID()] = c.As
	h.order = append(h.order, c.As)
	h.logger.Info("instance created", "step", i, "alias", c.As, "instance_id", inst.ID())
	return nil
}

func (h *Harness) run(ctx context.Context, i int, r *RunStep) error {
	if h.workers > 0 {
		return h.settle(ctx)
	}

	budget := engine.DefaultMaxSteps
	if r.MaxSteps != nil {
		budget = *r.MaxSteps
	}
	quiescent := h.engine.RunToNextState(budget)
	switch {
	case r.Quiescent != nil && *r.Quiescent != quiescent:
		h.result.AddError(fmt.Sprintf("steps[%d].run: quiescent = %v, want %v", i, quiescent, *r.Quiescent))
	case r.Quiescent == nil && !quiescent:
		h.result.AddError(fmt.Sprintf("steps[%d].run: not quiescent after %d steps", i, budget))
	}
	return nil
}

// tokenOp applies op to the running task token at the step's node. When
// no token is running there the first live token at the node is used, so
// the engine reports why the operation is invalid.
func (h *Harness) tokenOp(ctx context.Context, i int, kind string, s *TokenStep, op func(instanceID, tokenID string) error) error {
	if err := h.settle(ctx); err != nil {
		return err
	}
	inst, ok := h.engine.Instance(h.aliases[s.Instance])
	if !ok {
		return fmt.Errorf("steps[%d].%s: unknown instance %q", i, kind, s.Instance)
	}

	tokenID := ""
	tokens := inst.Tokens(s.Node)
	for _, t := range tokens {
		if t.Stage == bpmn.StageActive {
			tokenID = t.ID
			break
		}
	}
	if tokenID == "" && len(tokens) > 0 {
		tokenID = tokens[0].ID
	}

	err := op(inst.ID(), tokenID)
	got := errorKind(err)
	if got != s.ExpectError {
		h.result.AddError(fmt.Sprintf("steps[%d].%s %s/%s: error = %q, want %q (%v)",
			i, kind, s.Instance, s.Node, got, s.ExpectError, err))
	}
	return nil
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var e *bpmn.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return err.Error()
}

func (h *Harness) send(i int, def *MessageDef) error {
	msg, err := def.Message()
	if err != nil {
		return fmt.Errorf("steps[%d].send: %w", i, err)
	}
	n, err := h.engine.Send(msg)
	if err != nil {
		h.result.AddError(fmt.Sprintf("steps[%d].send %s: %v", i, msg.ID, err))
	}
	h.logger.Info("message sent", "step", i, "message", msg.ID, "deliveries", n)
	return nil
}

// delay schedules a message and blocks until the scheduler sent it.
func (h *Harness) delay(ctx context.Context, i int, d *DelayStep) error {
	msg, err := d.Message.Message()
	if err != nil {
		return fmt.Errorf("steps[%d].delay: %w", i, err)
	}
	if _, err := h.engine.Delay(msg, d.After); err != nil {
		return fmt.Errorf("steps[%d].delay: %w", i, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.After+settleTimeout)
	defer cancel()
	select {
	case <-h.fired:
	case <-ctx.Done():
		return fmt.Errorf("steps[%d].delay %s: not sent: %w", i, msg.ID, ctx.Err())
	}
	h.logger.Info("delayed message sent", "step", i, "message", msg.ID, "after", d.After)
	return h.settle(ctx)
}

// notifyingScheduler reports every message its inner scheduler sent.
type notifyingScheduler struct {
	inner collab.Scheduler
	fired chan<- bpmn.Message
}

func (s *notifyingScheduler) Schedule(ctx context.Context, msg bpmn.Message, at time.Time, fire func(bpmn.Message)) (collab.CancelFunc, error) {
	return s.inner.Schedule(ctx, msg, at, func(m bpmn.Message) {
		fire(m)
		s.fired <- m
	})
}

func (h *Harness) put(ctx context.Context, i int, p *PutStep) error {
	if err := h.settle(ctx); err != nil {
		return err
	}
	inst, ok := h.engine.Instance(h.aliases[p.Instance])
	if !ok {
		return fmt.Errorf("steps[%d].put: unknown instance %q", i, p.Instance)
	}
	for k, v := range p.Data {
		inst.Data().Put(k, v)
	}
	return nil
}

// expect compares the event types logged since the previous expect step.
// With workers the order across instances is not fixed, so only the
// multiset of types is compared.
func (h *Harness) expect(ctx context.Context, i int, want []string) error {
	if err := h.settle(ctx); err != nil {
		return err
	}
	events := h.engine.Events()
	got := make([]string, 0, len(events)-h.cursor)
	for _, ev := range events[h.cursor:] {
		got = append(got, string(ev.Type))
	}
	h.cursor = len(events)

	if h.workers > 0 {
		want = slices.Sorted(slices.Values(want))
		slices.Sort(got)
	}
	if !slices.Equal(got, want) {
		h.result.AddError(fmt.Sprintf("steps[%d].expect: events differ\n  got:  [%s]\n  want: [%s]",
			i, strings.Join(got, " "), strings.Join(want, " ")))
	}
	return nil
}

// collect fills the trace, instance summaries and metrics from the engine.
func (h *Harness) collect() {
	h.result.Metrics = h.metrics.Snapshot()
	for _, ev := range h.engine.Events() {
		h.result.Trace = append(h.result.Trace, TraceEvent{
			Seq:      ev.Seq,
			Instance: h.alias(ev.Instance),
			Type:     string(ev.Type),
			Node:     ev.Node,
			Flow:     ev.Flow,
		})
	}
	for _, alias := range h.order {
		inst, ok := h.engine.Instance(h.aliases[alias])
		if !ok {
			continue
		}
		res := InstanceResult{Alias: alias, ID: inst.ID(), Status: string(inst.Status())}
		if err := inst.Err(); err != nil {
			res.Error = err.Error()
		}
		h.result.Instances = append(h.result.Instances, res)
	}
}

func (h *Harness) alias(instanceID string) string {
	if a, ok := h.names[instanceID]; ok {
		return a
	}
	return instanceID
}
