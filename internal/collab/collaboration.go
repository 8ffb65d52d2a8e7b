package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// Listener receives messages on behalf of a node definition.
type Listener interface {
	// ListenerID identifies the listener across subscriptions.
	ListenerID() string
	// Definition is the message the listener was declared with.
	Definition() bpmn.Message
	// TargetInstances returns the instances msg should be delivered to.
	TargetInstances(msg bpmn.Message, origin *bpmn.Token) []*bpmn.Instance
	// Execute delivers msg to inst.
	Execute(msg bpmn.Message, inst *bpmn.Instance) error
}

type subscriber struct {
	listener Listener
	key      string
}

// Collaboration routes messages between instances.
type Collaboration struct {
	mu   sync.RWMutex
	subs []subscriber

	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Collaboration.
type Option func(*Collaboration)

// WithScheduler sets the scheduler used by Delay. The default is a
// TimerScheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Collaboration) { c.scheduler = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collaboration) { c.logger = l }
}

// WithNow overrides the clock Delay computes deadlines from.
func WithNow(now func() time.Time) Option {
	return func(c *Collaboration) { c.now = now }
}

// New returns an empty Collaboration.
func New(opts ...Option) *Collaboration {
	c := &Collaboration{
		scheduler: NewTimerScheduler(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers l under key. Registering the same listener twice
// for one key has no effect.
func (c *Collaboration) Subscribe(l Listener, key string) {
	key = bpmn.NormalizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.listener.ListenerID() == l.ListenerID() && s.key == key {
			return
		}
	}
	c.subs = append(c.subs, subscriber{listener: l, key: key})
	c.logger.Debug("listener subscribed", "listener", l.ListenerID(), "key", key)
}

// Unsubscribe removes the registrations of l under key. Other listeners
// subscribed to the same key are kept.
func (c *Collaboration) Unsubscribe(l Listener, key string) {
	key = bpmn.NormalizeKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.listener.ListenerID() == l.ListenerID() && s.key == key {
			c.logger.Debug("listener unsubscribed", "listener", l.ListenerID(), "key", key)
			continue
		}
		kept = append(kept, s)
	}
	clear(c.subs[len(kept):])
	c.subs = kept
}

// Subscriptions returns the number of registrations.
func (c *Collaboration) Subscriptions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Subscribed reports whether l is registered under key.
func (c *Collaboration) Subscribed(l Listener, key string) bool {
	key = bpmn.NormalizeKey(key)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.subs {
		if s.listener.ListenerID() == l.ListenerID() && s.key == key {
			return true
		}
	}
	return false
}

// Send delivers msg to the instances of every matching subscriber and
// returns the number of deliveries. origin is the token that threw the
// message, or nil for external and delayed sends. Delivery failures do not
// stop the remaining deliveries; they are joined into the returned error.
func (c *Collaboration) Send(msg bpmn.Message, origin *bpmn.Token) (int, error) {
	c.mu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	var errs []error
	delivered := 0
	seen := make(map[string]bool)
	for _, s := range subs {
		if !matches(msg, s) {
			continue
		}
		// A broadcast reaches each listener once, whatever it subscribed to.
		if seen[s.listener.ListenerID()] {
			continue
		}
		seen[s.listener.ListenerID()] = true

		for _, inst := range s.listener.TargetInstances(msg, origin) {
			if err := s.listener.Execute(msg, inst); err != nil {
				errs = append(errs, fmt.Errorf("deliver %q to %s: %w", msg.ID, inst.ID(), err))
				continue
			}
			delivered++
		}
	}
	c.logger.Debug("message sent", "message", msg.ID, "kind", msg.Kind.String(), "deliveries", delivered)
	return delivered, errors.Join(errs...)
}

func matches(msg bpmn.Message, s subscriber) bool {
	if msg.IsBroadcast() {
		return s.listener.Definition().IsBroadcast()
	}
	return s.key == msg.ID
}

// Delay schedules msg to be sent after d. The returned handle may be
// ignored; Cancel stops a send that has not happened yet.
func (c *Collaboration) Delay(msg bpmn.Message, d time.Duration) (*Delayed, error) {
	return c.DelayContext(context.Background(), msg, d)
}

// DelayContext is Delay with a context for the scheduler call.
func (c *Collaboration) DelayContext(ctx context.Context, msg bpmn.Message, d time.Duration) (*Delayed, error) {
	if d < 0 {
		return nil, fmt.Errorf("delay %q: negative duration %s", msg.ID, d)
	}
	due := c.now().Add(d)
	cancel, err := c.scheduler.Schedule(ctx, msg, due, c.fireDelayed)
	if err != nil {
		return nil, fmt.Errorf("delay %q: %w", msg.ID, err)
	}
	return &Delayed{msg: msg, due: due, cancel: cancel}, nil
}

func (c *Collaboration) fireDelayed(msg bpmn.Message) {
	n, err := c.Send(msg, nil)
	if err != nil {
		c.logger.Error("delayed message failed", "message", msg.ID, "deliveries", n, "error", err)
	}
}

// Delayed is a pending delayed send.
type Delayed struct {
	msg    bpmn.Message
	due    time.Time
	cancel CancelFunc
}

// Message returns the delayed message.
func (d *Delayed) Message() bpmn.Message { return d.msg }

// Due returns the deadline of the send.
func (d *Delayed) Due() time.Time { return d.due }

// Cancel stops the send. It reports false when the message was already
// sent or cancelled.
func (d *Delayed) Cancel() bool {
	if d == nil || d.cancel == nil {
		return false
	}
	return d.cancel()
}
