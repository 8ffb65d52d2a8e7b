package bpmn

import "fmt"

// NodeOption configures a node added to a Builder.
type NodeOption func(*Node)

// WithName sets the display name of a node.
func WithName(name string) NodeOption {
	return func(n *Node) { n.Name = name }
}

// WithMessage attaches a message definition to a start, end, catch or
// throw event.
func WithMessage(msg Message) NodeOption {
	return func(n *Node) {
		m := msg
		m.ID = NormalizeKey(m.ID)
		n.Message = &m
	}
}

// FlowOption configures a flow added to a Builder.
type FlowOption func(*Flow)

// WithCondition guards a flow.
func WithCondition(c Condition) FlowOption {
	return func(f *Flow) { f.Condition = c }
}

// AsDefault marks a flow as the default flow of its origin.
func AsDefault() FlowOption {
	return func(f *Flow) { f.Default = true }
}

// WithFlowID overrides the generated flow ID.
func WithFlowID(id string) FlowOption {
	return func(f *Flow) { f.ID = NormalizeKey(id) }
}

// Builder assembles a Process. Nodes and flows keep declaration order,
// which is also the order transitions are evaluated in.
//
//	p, err := bpmn.NewBuilder("order").
//		StartEvent("start").
//		Task("review").
//		EndEvent("end").
//		Flow("start", "review").
//		Flow("review", "end").
//		Build()
type Builder struct {
	id    string
	name  string
	nodes []*Node
	flows []*Flow
}

// NewBuilder starts a process with the given ID.
func NewBuilder(id string) *Builder {
	return &Builder{id: NormalizeKey(id)}
}

// Name sets the process display name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Node adds a node of any kind.
func (b *Builder) Node(id string, kind NodeKind, opts ...NodeOption) *Builder {
	n := &Node{ID: NormalizeKey(id), Kind: kind}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes = append(b.nodes, n)
	return b
}

// StartEvent adds a start event.
func (b *Builder) StartEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindStartEvent, opts...)
}

// EndEvent adds an end event.
func (b *Builder) EndEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindEndEvent, opts...)
}

// Task adds a task completed by an external actor.
func (b *Builder) Task(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindTask, opts...)
}

// ParallelGateway adds an AND gateway.
func (b *Builder) ParallelGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindParallelGateway, opts...)
}

// InclusiveGateway adds an OR gateway.
func (b *Builder) InclusiveGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindInclusiveGateway, opts...)
}

// ExclusiveGateway adds an XOR gateway.
func (b *Builder) ExclusiveGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, KindExclusiveGateway, opts...)
}

// CatchEvent adds an intermediate catch event waiting for msg.
func (b *Builder) CatchEvent(id string, msg Message, opts ...NodeOption) *Builder {
	return b.Node(id, KindCatchEvent, append([]NodeOption{WithMessage(msg)}, opts...)...)
}

// ThrowEvent adds an intermediate throw event sending msg.
func (b *Builder) ThrowEvent(id string, msg Message, opts ...NodeOption) *Builder {
	return b.Node(id, KindThrowEvent, append([]NodeOption{WithMessage(msg)}, opts...)...)
}

// Flow connects two nodes. Unless WithFlowID is given the flow is named
// flow-N, N being its position among the process flows.
func (b *Builder) Flow(from, to string, opts ...FlowOption) *Builder {
	f := &Flow{
		ID:     fmt.Sprintf("flow-%d", len(b.flows)+1),
		Origin: NormalizeKey(from),
		Target: NormalizeKey(to),
	}
	for _, opt := range opts {
		opt(f)
	}
	b.flows = append(b.flows, f)
	return b
}

// Build validates the graph and returns the immutable process.
func (b *Builder) Build() (*Process, error) {
	p := &Process{
		ID:    b.id,
		Name:  b.name,
		index: make(map[string]*Node, len(b.nodes)),
	}
	for _, src := range b.nodes {
		n := *src
		n.Incoming, n.Outgoing = nil, nil
		p.nodes = append(p.nodes, &n)
		if _, dup := p.index[n.ID]; !dup {
			p.index[n.ID] = &n
		}
	}
	for _, src := range b.flows {
		f := *src
		p.flows = append(p.flows, &f)
		if origin, ok := p.index[f.Origin]; ok {
			origin.Outgoing = append(origin.Outgoing, &f)
		}
		if target, ok := p.index[f.Target]; ok {
			target.Incoming = append(target.Incoming, &f)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for _, n := range p.nodes {
		n.bind(p.ID)
	}
	return p, nil
}
