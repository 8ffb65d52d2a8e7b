package engine

import (
	"context"
	"sync"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/collab"
)

// catchListener connects a catch event definition to the message bus. One
// listener exists per (process, node); its targets are the instances with
// a token waiting at the node.
//
// mu orders subscribe against release: the waiting check and the
// unsubscribe that depends on it are one step.
type catchListener struct {
	engine  *Engine
	process string
	node    *bpmn.Node
	id      string

	mu sync.Mutex
}

var _ collab.Listener = (*catchListener)(nil)

func (l *catchListener) ListenerID() string { return l.id }

func (l *catchListener) Definition() bpmn.Message { return *l.node.Message }

func (l *catchListener) TargetInstances(bpmn.Message, *bpmn.Token) []*bpmn.Instance {
	var out []*bpmn.Instance
	for _, inst := range l.engine.Instances() {
		if inst.Process().ID == l.process && inst.WaitingAt(l.node.ID) {
			out = append(out, inst)
		}
	}
	return out
}

// Execute hands msg to the waiting token of inst and schedules the
// instance.
func (l *catchListener) Execute(msg bpmn.Message, inst *bpmn.Instance) error {
	ctx := context.Background()
	d := l.engine.driver(inst.ID())
	d.Lock()
	out, err := inst.Deliver(l.node.ID, msg)
	if err != nil {
		d.Unlock()
		return err
	}
	l.engine.commit(ctx, out)
	d.Unlock()

	l.engine.effects(ctx, inst, out)
	l.engine.queue.Enqueue(inst.ID())
	return nil
}

func (l *catchListener) subscribe(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.engine.collab.Subscribe(l, key)
}

// release unsubscribes key once no instance waits at the node any more.
func (l *catchListener) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.anyWaiting() {
		l.engine.collab.Unsubscribe(l, key)
	}
}

func (l *catchListener) anyWaiting() bool {
	for _, inst := range l.engine.Instances() {
		if inst.Process().ID == l.process && inst.WaitingAt(l.node.ID) {
			return true
		}
	}
	return false
}

// listenerFor returns the listener of a subscription's node, creating it
// on first use.
func (e *Engine) listenerFor(sub bpmn.Subscription) *catchListener {
	id := sub.Process + "/" + sub.Node.ID
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.listeners[id]; ok {
		return l
	}
	l := &catchListener{engine: e, process: sub.Process, node: sub.Node, id: id}
	e.listeners[id] = l
	return l
}
