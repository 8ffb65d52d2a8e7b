package bpmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlow_Evaluate(t *testing.T) {
	data := NewMapStore(map[string]any{"A": 1, "B": "yes"})

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"nil condition", nil, true},
		{"always", Always, true},
		{"equals int as string", Equals("A", "1"), true},
		{"equals mismatch", Equals("A", "2"), false},
		{"missing key", Equals("C", ""), false},
		{"not", Not(Equals("A", "2")), true},
		{"all", All(Equals("A", "1"), Equals("B", "yes")), true},
		{"all fails", All(Equals("A", "1"), Equals("B", "no")), false},
		{"any", Any(Equals("A", "9"), Equals("B", "yes")), true},
		{"any fails", Any(Equals("A", "9"), Equals("B", "no")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Flow{ID: "f", Condition: tt.cond}
			assert.Equal(t, tt.want, f.Evaluate(data))
		})
	}
}

func TestMapStore_SnapshotIsCopy(t *testing.T) {
	s := NewMapStore(nil)
	s.Put("k", "v")

	snap := s.Snapshot()
	snap["k"] = "changed"

	assert.Equal(t, "v", s.Get("k"))
	assert.Nil(t, s.Get("missing"))
}

func TestMessageKind_Text(t *testing.T) {
	b, err := MessageBroadcast.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "broadcast", string(b))

	var k MessageKind
	assert.NoError(t, k.UnmarshalText([]byte("signal")))
	assert.Equal(t, MessageBroadcast, k)
	assert.NoError(t, k.UnmarshalText([]byte("direct")))
	assert.Equal(t, MessageDirect, k)
	assert.Error(t, k.UnmarshalText([]byte("carrier-pigeon")))

	_, err = MessageKind(7).MarshalText()
	assert.Error(t, err)
}

func TestMessage_Constructors(t *testing.T) {
	m := DirectMessage("ordeŕ").WithPayload(map[string]any{"n": 1})
	assert.False(t, m.IsBroadcast())
	assert.Equal(t, NormalizeKey("ordeŕ"), m.ID)
	assert.Equal(t, 1, m.Payload["n"])

	assert.True(t, BroadcastMessage("alarm").IsBroadcast())
}
