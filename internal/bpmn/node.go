package bpmn

// NodeKind is the BPMN element type of a node.
type NodeKind string

const (
	KindStartEvent       NodeKind = "startEvent"
	KindEndEvent         NodeKind = "endEvent"
	KindCatchEvent       NodeKind = "intermediateCatchEvent"
	KindThrowEvent       NodeKind = "intermediateThrowEvent"
	KindTask             NodeKind = "task"
	KindParallelGateway  NodeKind = "parallelGateway"
	KindInclusiveGateway NodeKind = "inclusiveGateway"
	KindExclusiveGateway NodeKind = "exclusiveGateway"
)

// IsGateway reports whether k is one of the gateway kinds.
func (k NodeKind) IsGateway() bool {
	switch k {
	case KindParallelGateway, KindInclusiveGateway, KindExclusiveGateway:
		return true
	}
	return false
}

// Valid reports whether k is a known kind.
func (k NodeKind) Valid() bool {
	switch k {
	case KindStartEvent, KindEndEvent, KindCatchEvent, KindThrowEvent, KindTask:
		return true
	}
	return k.IsGateway()
}

// Node is one element of a process graph. Incoming and Outgoing keep
// declaration order.
type Node struct {
	ID       string
	Name     string
	Kind     NodeKind
	Incoming []*Flow
	Outgoing []*Flow

	// Message is the message a catch event waits for, or the message a
	// throw or end event sends.
	Message *Message

	process     string
	arrival     EventType
	transitions []*transition
}

// Process returns the ID of the process the node belongs to.
func (n *Node) Process() string { return n.process }

// Transitions returns the names of the node's transitions in evaluation
// order.
func (n *Node) Transitions() []string {
	names := make([]string, len(n.transitions))
	for i, tr := range n.transitions {
		names[i] = tr.name
	}
	return names
}

// bind installs the transitions of the node's kind.
func (n *Node) bind(process string) {
	n.process = process
	n.arrival = ""
	switch n.Kind {
	case KindStartEvent:
		n.transitions = []*transition{startTransition()}
	case KindEndEvent:
		n.transitions = []*transition{endTransition()}
	case KindCatchEvent:
		n.transitions = catchTransitions()
	case KindThrowEvent:
		n.transitions = []*transition{throwTransition()}
	case KindTask:
		n.transitions = activityTransitions()
	case KindParallelGateway:
		n.arrival = EventGatewayTokenArrives
		n.transitions = []*transition{gatewayTransition("parallel", NewParallelGatewayRule())}
	case KindInclusiveGateway:
		n.arrival = EventGatewayTokenArrives
		n.transitions = []*transition{gatewayTransition("inclusive", NewInclusiveGatewayRule())}
	case KindExclusiveGateway:
		n.arrival = EventGatewayTokenArrives
		n.transitions = []*transition{gatewayTransition("exclusive", NewExclusiveGatewayRule())}
	}
}

func (n *Node) defaultFlow() *Flow {
	for _, f := range n.Outgoing {
		if f.Default {
			return f
		}
	}
	return nil
}
