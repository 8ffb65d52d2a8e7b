package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/collab"
)

// Unbounded as a step budget means no limit.
const Unbounded = -1

// DefaultMaxSteps is the default step quota of one Run activation.
const DefaultMaxSteps = 1000

// Sink persists the lifecycle log. Batches arrive in seq order.
type Sink interface {
	RecordInstance(ctx context.Context, rec InstanceRecord) error
	AppendEvents(ctx context.Context, events []bpmn.Event) error
}

// InstanceRecord is the persisted state of an instance.
type InstanceRecord struct {
	ID      string
	Process string
	Status  bpmn.InstanceStatus
	Error   string
	// Data is a snapshot of the instance data when the store supports it.
	Data map[string]any
}

type snapshotter interface {
	Snapshot() map[string]any
}

// Engine runs execution instances.
//
// Thread-safety model:
//   - CreateExecutionInstance, Complete, Cancel, Send: safe from any goroutine
//   - RunToNextState: one caller at a time, not concurrently with Run
//   - Run: once; it owns the worker pool until ctx is done or Stop
//
// Every change to an instance and the append of its events happen under
// that instance's driver lock, so each instance's slice of the log is in
// firing order whichever goroutine drives it.
type Engine struct {
	mu        sync.RWMutex
	instances map[string]*bpmn.Instance
	drivers   map[string]*sync.Mutex
	order     []string
	listeners map[string]*catchListener

	logMu  sync.Mutex
	events []bpmn.Event
	clock  SeqClock

	ids      IDGenerator
	observer Observer
	sinks    []Sink
	collab   *collab.Collaboration
	logger   *slog.Logger
	maxSteps int
	queue    *workQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the step quota of one Run activation.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithIDGenerator sets the generator of instance and token IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithObserver sets the observer. Use NewCompositeObserver for several.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithSink adds an event sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithCollaboration shares a message bus between engines.
func WithCollaboration(c *collab.Collaboration) Option {
	return func(e *Engine) { e.collab = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the sequence clock, e.g. NewClockAt to continue a
// persisted log.
func WithClock(c SeqClock) Option {
	return func(e *Engine) { e.clock = c }
}

// New returns an engine with no instances.
func New(opts ...Option) *Engine {
	e := &Engine{
		instances: make(map[string]*bpmn.Instance),
		drivers:   make(map[string]*sync.Mutex),
		listeners: make(map[string]*catchListener),
		clock:     NewClock(),
		ids:       UUIDv7Generator{},
		observer:  NoopObserver{},
		logger:    slog.Default(),
		maxSteps:  DefaultMaxSteps,
		queue:     newWorkQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.collab == nil {
		e.collab = collab.New(collab.WithLogger(e.logger))
	}
	return e
}

// Collaboration returns the engine's message bus.
func (e *Engine) Collaboration() *collab.Collaboration { return e.collab }

// CreateExecutionInstance validates p and registers a new instance with a
// READY token at each plain start event. data may be nil.
func (e *Engine) CreateExecutionInstance(p *bpmn.Process, data bpmn.DataStore) (*bpmn.Instance, error) {
	inst, err := bpmn.NewInstance(e.ids.Generate(), p, data, e.ids.Generate)
	if err != nil {
		return nil, fmt.Errorf("create instance of %s: %w", p.ID, err)
	}

	e.mu.Lock()
	e.instances[inst.ID()] = inst
	e.drivers[inst.ID()] = &sync.Mutex{}
	e.order = append(e.order, inst.ID())
	e.mu.Unlock()

	ctx := context.Background()
	e.logger.Debug("instance created", "process", p.ID, "instance_id", inst.ID())
	e.record(ctx, inst, "")
	e.observer.OnInstanceStarted(ctx, inst)
	e.queue.Enqueue(inst.ID())
	return inst, nil
}

// Instance returns a registered instance.
func (e *Engine) Instance(id string) (*bpmn.Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// Instances returns the registered instances in creation order.
func (e *Engine) Instances() []*bpmn.Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*bpmn.Instance, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.instances[id])
	}
	return out
}

// Events returns a copy of the lifecycle log.
func (e *Engine) Events() []bpmn.Event {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	return slices.Clone(e.events)
}

// ClearEvents empties the in-memory log. Sinks are not affected and
// sequence numbers keep increasing.
func (e *Engine) ClearEvents() {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	e.events = nil
}

// RunToNextState steps the instances round-robin, one transition each per
// pass, until nothing is enabled or maxSteps transitions ran. It returns
// true when nothing is enabled any more and false when the budget ran out
// first. Pass Unbounded for no limit. The state after false is valid and
// a later call resumes from it.
func (e *Engine) RunToNextState(maxSteps int) bool {
	ctx := context.Background()
	steps := 0
	for {
		progressed := false
		for _, inst := range e.Instances() {
			if maxSteps != Unbounded && steps >= maxSteps {
				return !e.anyEnabled()
			}
			if e.step(ctx, inst) {
				steps++
				progressed = true
			}
		}
		if !progressed {
			return true
		}
	}
}

func (e *Engine) anyEnabled() bool {
	for _, inst := range e.Instances() {
		if inst.Enabled() {
			return true
		}
	}
	return false
}

// driver returns the lock serializing the transitions of an instance.
func (e *Engine) driver(id string) *sync.Mutex {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drivers[id]
}

// step fires one transition of inst and applies its outcome. It reports
// whether a transition fired.
func (e *Engine) step(ctx context.Context, inst *bpmn.Instance) bool {
	d := e.driver(inst.ID())
	d.Lock()
	out, ok, err := inst.Step()
	if err != nil {
		d.Unlock()
		e.fail(ctx, inst, err)
		return false
	}
	if !ok {
		d.Unlock()
		return false
	}
	e.commit(ctx, out)
	d.Unlock()

	e.effects(ctx, inst, out)
	return true
}

// Complete completes a running task token of an instance.
func (e *Engine) Complete(instanceID, tokenID string) error {
	inst, ok := e.Instance(instanceID)
	if !ok {
		return unknownInstance(instanceID)
	}
	ctx := context.Background()
	d := e.driver(inst.ID())
	d.Lock()
	out, err := inst.Complete(tokenID)
	if err != nil {
		d.Unlock()
		return err
	}
	e.commit(ctx, out)
	d.Unlock()

	e.effects(ctx, inst, out)
	e.queue.Enqueue(inst.ID())
	return nil
}

// Cancel cancels a running task token of an instance. The cancel
// transition runs on a later step.
func (e *Engine) Cancel(instanceID, tokenID string) error {
	inst, ok := e.Instance(instanceID)
	if !ok {
		return unknownInstance(instanceID)
	}
	d := e.driver(inst.ID())
	d.Lock()
	err := inst.Cancel(tokenID)
	d.Unlock()
	if err != nil {
		return err
	}
	e.logger.Debug("token cancelled", "instance_id", instanceID, "token_id", tokenID)
	e.queue.Enqueue(inst.ID())
	return nil
}

// Send puts msg on the message bus as an external message.
func (e *Engine) Send(msg bpmn.Message) (int, error) {
	return e.send(context.Background(), msg, nil)
}

// Delay sends msg on the message bus after d.
func (e *Engine) Delay(msg bpmn.Message, d time.Duration) (*collab.Delayed, error) {
	return e.collab.Delay(msg, d)
}

func (e *Engine) send(ctx context.Context, msg bpmn.Message, origin *bpmn.Token) (int, error) {
	n, err := e.collab.Send(msg, origin)
	e.observer.OnMessageDelivered(ctx, msg, n)
	if err != nil {
		e.logger.Error("message delivery failed", "message", msg.ID, "deliveries", n, "error", err)
	}
	return n, err
}

// commit appends the events of an outcome and updates its subscriptions.
// The caller holds the instance's driver lock.
func (e *Engine) commit(ctx context.Context, out bpmn.Outcome) {
	e.appendEvents(ctx, out.Events)
	for _, sub := range out.Subscribe {
		e.listenerFor(sub).subscribe(sub.Key)
	}
	for _, sub := range out.Unsubscribe {
		e.listenerFor(sub).release(sub.Key)
	}
}

// effects notifies the observer and sends the messages of a committed
// outcome. It runs without the driver lock: a send may deliver to the
// same instance.
func (e *Engine) effects(ctx context.Context, inst *bpmn.Instance, out bpmn.Outcome) {
	e.observer.OnTransition(ctx, inst, out)
	for _, s := range out.Sends {
		origin := s.Origin
		_, _ = e.send(ctx, s.Message, &origin)
	}

	if out.Completed {
		e.logger.Debug("instance completed", "instance_id", inst.ID())
		e.record(ctx, inst, "")
		e.observer.OnInstanceCompleted(ctx, inst)
	}
}

// appendEvents stamps a batch and adds it to the log. The whole batch is
// appended under one lock.
func (e *Engine) appendEvents(ctx context.Context, events []bpmn.Event) {
	if len(events) == 0 {
		return
	}
	e.logMu.Lock()
	defer e.logMu.Unlock()

	batch := slices.Clone(events)
	for i := range batch {
		batch[i].Seq = e.clock.Next()
	}
	e.events = append(e.events, batch...)
	for _, s := range e.sinks {
		if err := s.AppendEvents(ctx, batch); err != nil {
			e.logger.Error("sink append failed", "instance_id", batch[0].Instance, "error", err)
		}
	}
}

func (e *Engine) record(ctx context.Context, inst *bpmn.Instance, errMsg string) {
	if len(e.sinks) == 0 {
		return
	}
	rec := InstanceRecord{
		ID:      inst.ID(),
		Process: inst.Process().ID,
		Status:  inst.Status(),
		Error:   errMsg,
	}
	if snap, ok := inst.Data().(snapshotter); ok {
		rec.Data = snap.Snapshot()
	}
	for _, s := range e.sinks {
		if err := s.RecordInstance(ctx, rec); err != nil {
			e.logger.Error("sink record failed", "instance_id", rec.ID, "error", err)
		}
	}
}

// fail reports an instance terminated by a transition error.
func (e *Engine) fail(ctx context.Context, inst *bpmn.Instance, err error) {
	e.logger.Error("instance failed",
		"process", inst.Process().ID,
		"instance_id", inst.ID(),
		"error", err,
	)
	e.record(ctx, inst, err.Error())
	e.observer.OnInstanceFailed(ctx, inst, err)
}

// Run drives instances with a pool of workers until ctx is cancelled or
// Stop is called. Each dequeued instance runs until nothing is enabled or
// its step quota is used up, in which case it is queued again.
func (e *Engine) Run(ctx context.Context, workers int) error {
	workers = max(workers, 1)
	e.logger.Info("engine starting", "workers", workers, "max_steps", e.maxSteps)

	for _, inst := range e.Instances() {
		if inst.Enabled() {
			e.queue.Enqueue(inst.ID())
		}
	}

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, w)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.logger.Info("engine stopping: context cancelled")
		return err
	}
	e.logger.Info("engine stopping: queue closed")
	return nil
}

func (e *Engine) worker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if instID, ok := e.queue.TryDequeue(); ok {
			e.activate(ctx, instID)
			e.queue.Done(instID)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Debug("worker exiting", "worker", id)
				return
			}
		}
	}
}

// activate runs one instance until it settles or its quota is used up.
func (e *Engine) activate(ctx context.Context, id string) {
	inst, ok := e.Instance(id)
	if !ok {
		return
	}
	quota := NewQuotaEnforcer(e.maxSteps)
	for ctx.Err() == nil {
		if err := quota.Check(id); err != nil {
			e.logger.Debug("step quota reached, requeueing", "instance_id", id, "error", err)
			e.queue.Enqueue(id)
			return
		}
		if !e.step(ctx, inst) {
			return
		}
	}
}

// Idle reports whether Run has no queued or running work.
func (e *Engine) Idle() bool {
	return e.queue.Idle()
}

// WaitIdle blocks until Run has no queued or running work.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for !e.queue.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop shuts Run down. Workers drain what is already queued and exit;
// nothing new is accepted.
func (e *Engine) Stop() {
	e.queue.Close()
}
