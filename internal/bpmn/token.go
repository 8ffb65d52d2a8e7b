package bpmn

import "maps"

// TokenStatus is the lifecycle status of a token.
type TokenStatus string

const (
	TokenReady    TokenStatus = "READY"
	TokenActive   TokenStatus = "ACTIVE"
	TokenClosed   TokenStatus = "CLOSED"
	TokenConsumed TokenStatus = "CONSUMED"
)

// Stage is the place inside its owner node where a token sits.
type Stage string

const (
	// StageIncoming holds tokens that arrived through an incoming flow.
	StageIncoming Stage = "incoming"
	// StageReady holds tokens ready to trigger an event node.
	StageReady Stage = "ready"
	// StageActive holds tokens of a running task or an armed catch event.
	StageActive Stage = "active"
	// StageCompleted holds task tokens completed by an external actor.
	StageCompleted Stage = "completed"
	// StageClosed holds closed or cancelled task tokens about to leave.
	StageClosed Stage = "closed"
	// StageWaiting holds catch event tokens waiting for a message.
	StageWaiting Stage = "waiting"
)

// Token property keys and markers.
const (
	PropertyEventType = "eventType"
	EventTypeCancel   = "Cancel"
)

// Token is a unit of control flow.
//
// Node and Instance are identifiers, not references: a token can be copied
// or serialized without dragging its owners along.
type Token struct {
	ID         string         `json:"id"`
	Status     TokenStatus    `json:"status"`
	Node       string         `json:"node"`
	Instance   string         `json:"instance"`
	Stage      Stage          `json:"stage"`
	Flow       string         `json:"flow,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Property returns a token property, or nil if unset.
func (t *Token) Property(key string) any {
	if t.Properties == nil {
		return nil
	}
	return t.Properties[key]
}

// SetProperty sets a token property.
func (t *Token) SetProperty(key string, value any) {
	if t.Properties == nil {
		t.Properties = make(map[string]any)
	}
	t.Properties[key] = value
}

// IsCancelled reports whether the token carries the Cancel marker.
func (t *Token) IsCancelled() bool {
	return t.Property(PropertyEventType) == EventTypeCancel
}

// Clone returns a deep copy of the token's own fields.
func (t *Token) Clone() Token {
	c := *t
	c.Properties = maps.Clone(t.Properties)
	return c
}
