package bpmn

import (
	"maps"
	"slices"
	"sync"
)

// InstanceStatus is the lifecycle status of an execution instance.
type InstanceStatus string

const (
	InstanceActive     InstanceStatus = "ACTIVE"
	InstanceCompleted  InstanceStatus = "COMPLETED"
	InstanceTerminated InstanceStatus = "TERMINATED"
)

// Instance is one execution of a Process. All exported methods take the
// instance lock, so transitions of one instance never overlap.
type Instance struct {
	mu      sync.Mutex
	id      string
	process *Process
	data    DataStore
	status  InstanceStatus
	err     error
	tokens  []*Token
	newID   func() string
}

// NewInstance validates p and creates an instance holding one READY token
// at every start event without a message definition. newID supplies token
// IDs; data may be nil.
func NewInstance(id string, p *Process, data DataStore, newID func() string) (*Instance, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if data == nil {
		data = NewMapStore(nil)
	}
	inst := &Instance{
		id:      id,
		process: p,
		data:    data,
		status:  InstanceActive,
		newID:   newID,
	}
	for _, n := range p.StartEvents() {
		if n.Message != nil {
			continue
		}
		tok := inst.spawn(n.ID, nil)
		tok.Stage = StageReady
		inst.add(tok)
	}
	return inst, nil
}

// ID returns the instance ID.
func (i *Instance) ID() string { return i.id }

// Process returns the process the instance executes.
func (i *Instance) Process() *Process { return i.process }

// Data returns the instance data store.
func (i *Instance) Data() DataStore { return i.data }

// Status returns the instance status.
func (i *Instance) Status() InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Err returns the error that terminated the instance, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Enabled reports whether any transition of the instance can fire.
func (i *Instance) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, _ := i.next()
	return n != nil
}

// Step fires the first enabled transition in node declaration order. It
// returns false when nothing is enabled. A transition error terminates the
// instance and is returned.
func (i *Instance) Step() (Outcome, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	n, tr := i.next()
	if n == nil {
		return Outcome{}, false, nil
	}
	out := Outcome{Instance: i.id, Node: n.ID, Transition: tr.name}
	if err := tr.fire(i, n, i.inbox(n, tr), &out); err != nil {
		i.status = InstanceTerminated
		i.err = err
		return Outcome{}, false, err
	}
	i.settle(&out)
	return out, true, nil
}

// Complete marks a running task token as completed.
func (i *Instance) Complete(tokenID string) (Outcome, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tok, n, err := i.runningTask(tokenID, "complete")
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Instance: i.id, Node: n.ID, Transition: "complete"}
	tok.Stage = StageCompleted
	out.emit(EventActivityCompleted, i, n.ID, tok, "")
	return out, nil
}

// Cancel closes a running task token. The cancel transition of the task
// then tags it and moves it out of the active stage.
func (i *Instance) Cancel(tokenID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tok, _, err := i.runningTask(tokenID, "cancel")
	if err != nil {
		return err
	}
	tok.Status = TokenClosed
	return nil
}

func (i *Instance) runningTask(tokenID, op string) (*Token, *Node, error) {
	if i.status != InstanceActive {
		return nil, nil, tokenError(i.id, tokenID, "cannot %s token: instance is %s", op, i.status)
	}
	tok := i.token(tokenID)
	if tok == nil {
		return nil, nil, tokenError(i.id, tokenID, "cannot %s token: no live token %q", op, tokenID)
	}
	n, ok := i.process.index[tok.Node]
	if !ok || n.Kind != KindTask {
		return nil, nil, tokenError(i.id, tokenID, "cannot %s token: %q is not a task", op, tok.Node)
	}
	if tok.Stage != StageActive || tok.Status != TokenActive {
		return nil, nil, tokenError(i.id, tokenID, "cannot %s token: token is %s in stage %s", op, tok.Status, tok.Stage)
	}
	return tok, n, nil
}

// Deliver hands msg to the first token waiting at the catch event nodeID.
// The payload is merged into the instance data. The token becomes READY and
// the catch transition forwards it on a later step.
func (i *Instance) Deliver(nodeID string, msg Message) (Outcome, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	nodeID = NormalizeKey(nodeID)
	if i.status != InstanceActive {
		return Outcome{}, tokenError(i.id, "", "cannot deliver %q: instance is %s", msg.ID, i.status)
	}
	var tok *Token
	for _, t := range i.tokens {
		if t.Node == nodeID && t.Stage == StageWaiting {
			tok = t
			break
		}
	}
	if tok == nil {
		return Outcome{}, tokenError(i.id, "", "cannot deliver %q: no token waiting at %q", msg.ID, nodeID)
	}
	for k, v := range msg.Payload {
		i.data.Put(k, v)
	}
	tok.Stage = StageReady
	tok.Status = TokenReady
	out := Outcome{Instance: i.id, Node: nodeID, Transition: "deliver"}
	out.emit(EventCatchMessageCatch, i, nodeID, tok, "")
	return out, nil
}

// WaitingAt reports whether a token waits for a message at nodeID.
func (i *Instance) WaitingAt(nodeID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.waitingAt(NormalizeKey(nodeID))
}

// Tokens returns copies of the live tokens at nodeID, or of every live
// token when nodeID is empty.
func (i *Instance) Tokens(nodeID string) []Token {
	i.mu.Lock()
	defer i.mu.Unlock()
	nodeID = NormalizeKey(nodeID)
	var out []Token
	for _, t := range i.tokens {
		if nodeID == "" || t.Node == nodeID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Terminate stops the instance. Later calls keep the first error.
func (i *Instance) Terminate(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == InstanceTerminated {
		return
	}
	i.status = InstanceTerminated
	if i.err == nil {
		i.err = err
	}
}

// next returns the first enabled scheduled transition.
func (i *Instance) next() (*Node, *transition) {
	if i.status != InstanceActive || len(i.tokens) == 0 {
		return nil, nil
	}
	for _, n := range i.process.nodes {
		for _, tr := range n.transitions {
			if tr.inline {
				continue
			}
			if tr.enabled(i.inbox(n, tr)) {
				return n, tr
			}
		}
	}
	return nil, nil
}

// settle completes the instance once no live token is left.
func (i *Instance) settle(out *Outcome) {
	if len(i.tokens) == 0 && i.status == InstanceActive {
		i.status = InstanceCompleted
		out.Completed = true
	}
}

// inbox collects the eligible tokens for tr. Tokens arriving through flows
// are grouped per incoming flow; any other stage is a single place.
func (i *Instance) inbox(n *Node, tr *transition) *Inbox {
	in := &Inbox{Node: n, Instance: i}
	if tr.from == StageIncoming && len(n.Incoming) > 0 {
		in.Places = make([]Place, len(n.Incoming))
		for k, f := range n.Incoming {
			in.Places[k].Flow = f
		}
	} else {
		in.Places = []Place{{}}
	}
	for _, t := range i.tokens {
		if t.Node != n.ID || t.Stage != tr.from || !tr.rule.AssertCondition(t, i) {
			continue
		}
		placed := false
		for k := range in.Places {
			if f := in.Places[k].Flow; f == nil || f.ID == t.Flow {
				in.Places[k].Tokens = append(in.Places[k].Tokens, t)
				placed = true
				break
			}
		}
		if placed {
			in.tokens = append(in.tokens, t)
		}
	}
	return in
}

// pendingUpstream reports whether a live token outside gateway may still
// arrive through the incoming flow f.
func (i *Instance) pendingUpstream(gateway *Node, f *Flow) bool {
	for _, t := range i.tokens {
		if t.Node == gateway.ID {
			continue
		}
		if i.process.Reaches(t.Node, f.Origin, gateway.ID) {
			return true
		}
	}
	return false
}

func (i *Instance) waitingAt(nodeID string) bool {
	for _, t := range i.tokens {
		if t.Node == nodeID && t.Stage == StageWaiting {
			return true
		}
	}
	return false
}

func (i *Instance) token(id string) *Token {
	for _, t := range i.tokens {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// spawn creates a token at node, copying the properties of from. The token
// is not live until added.
func (i *Instance) spawn(node string, from *Token) *Token {
	tok := &Token{
		ID:       i.newID(),
		Status:   TokenReady,
		Node:     node,
		Instance: i.id,
	}
	if from != nil {
		tok.Properties = maps.Clone(from.Properties)
	}
	return tok
}

func (i *Instance) add(tok *Token) {
	if !slices.Contains(i.tokens, tok) {
		i.tokens = append(i.tokens, tok)
	}
}

func (i *Instance) consume(tok *Token) {
	tok.Status = TokenConsumed
	i.tokens = slices.DeleteFunc(i.tokens, func(t *Token) bool { return t == tok })
}

// deliver moves tok along f into the target node and runs the target's
// inline transitions.
func (i *Instance) deliver(f *Flow, tok *Token, out *Outcome) error {
	target := i.process.index[f.Target]
	tok.Node = target.ID
	tok.Instance = i.id
	tok.Flow = f.ID
	tok.Stage = StageIncoming
	tok.Status = TokenReady
	i.add(tok)
	if target.arrival != "" {
		out.emit(target.arrival, i, target.ID, tok, f.ID)
	}
	for _, tr := range target.transitions {
		if !tr.inline {
			continue
		}
		if in := i.inbox(target, tr); tr.enabled(in) {
			if err := tr.fire(i, target, in, out); err != nil {
				return err
			}
		}
	}
	return nil
}
