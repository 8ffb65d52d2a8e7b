package bpmn

// EventType names a lifecycle event emitted by a transition.
type EventType string

const (
	EventActivityActivated EventType = "ACTIVITY_ACTIVATED"
	EventActivityCompleted EventType = "ACTIVITY_COMPLETED"
	EventActivityClosed    EventType = "ACTIVITY_CLOSED"
	EventActivityCancelled EventType = "ACTIVITY_CANCELLED"

	EventGatewayTokenArrives  EventType = "GATEWAY_TOKEN_ARRIVES"
	EventGatewayActivated     EventType = "GATEWAY_ACTIVATED"
	EventGatewayTokenConsumed EventType = "GATEWAY_TOKEN_CONSUMED"
	EventGatewayTokenPassed   EventType = "GATEWAY_TOKEN_PASSED"

	EventTriggered            EventType = "EVENT_TRIGGERED"
	EventCatchTokenArrives    EventType = "EVENT_CATCH_TOKEN_ARRIVES"
	EventCatchMessageCatch    EventType = "EVENT_CATCH_MESSAGE_CATCH"
	EventCatchMessageConsumed EventType = "EVENT_CATCH_MESSAGE_CONSUMED"
)

// Event is one entry of the lifecycle log.
// Seq is assigned by the engine when the event is recorded.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	Instance string    `json:"instance"`
	Node     string    `json:"node"`
	Token    string    `json:"token,omitempty"`
	Flow     string    `json:"flow,omitempty"`
}

// Subscription asks the message bus to route Key to a catch event node.
type Subscription struct {
	Process string
	Node    *Node
	Key     string
}

// Send is a message thrown by a transition.
type Send struct {
	Message Message
	Origin  Token
}

// Outcome collects what a transition did. Events are in emission order.
// Sends and subscription changes are applied by the caller once the
// instance lock is released.
type Outcome struct {
	Instance    string
	Node        string
	Transition  string
	Events      []Event
	Sends       []Send
	Subscribe   []Subscription
	Unsubscribe []Subscription
	Completed   bool
}

func (o *Outcome) emit(typ EventType, inst *Instance, node string, tok *Token, flow string) {
	ev := Event{Type: typ, Instance: inst.id, Node: node, Flow: flow}
	if tok != nil {
		ev.Token = tok.ID
	}
	o.Events = append(o.Events, ev)
}

// EventTypes returns the types of events in order.
func EventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
