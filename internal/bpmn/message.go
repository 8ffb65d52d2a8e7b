package bpmn

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// MessageKind tags a Message as direct or broadcast.
type MessageKind int

const (
	// MessageDirect is delivered to subscribers whose key equals the message ID.
	MessageDirect MessageKind = iota
	// MessageBroadcast (a signal) is delivered to every broadcast subscriber.
	MessageBroadcast
)

// String returns the wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case MessageDirect:
		return "direct"
	case MessageBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k MessageKind) MarshalText() ([]byte, error) {
	switch k {
	case MessageDirect, MessageBroadcast:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown message kind %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MessageKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "direct":
		*k = MessageDirect
	case "broadcast", "signal":
		*k = MessageBroadcast
	default:
		return fmt.Errorf("unknown message kind %q", text)
	}
	return nil
}

// Message is a message or signal exchanged between instances.
// It is a closed variant: Kind decides how it is correlated.
type Message struct {
	Kind    MessageKind    `json:"kind"`
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DirectMessage returns a message correlated by id.
func DirectMessage(id string) Message {
	return Message{Kind: MessageDirect, ID: NormalizeKey(id)}
}

// BroadcastMessage returns a signal named name.
func BroadcastMessage(name string) Message {
	return Message{Kind: MessageBroadcast, ID: NormalizeKey(name)}
}

// WithPayload returns a copy of m carrying payload.
func (m Message) WithPayload(payload map[string]any) Message {
	m.Payload = payload
	return m
}

// IsBroadcast reports whether m is a broadcast signal.
func (m Message) IsBroadcast() bool {
	return m.Kind == MessageBroadcast
}

// NormalizeKey puts identifiers and correlation keys in NFC form so that
// visually identical keys compare equal.
func NormalizeKey(s string) string {
	return norm.NFC.String(s)
}
