package message

import "testing"

type pingCommand struct {
	CommandBase
	ID string
}

func (pingCommand) MessageType() string { return "test.ping" }

type pongEvent struct {
	EventBase
	ID string
}

func (pongEvent) MessageType() string { return "test.pong" }

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want Kind
	}{
		{name: "command", msg: pingCommand{ID: "1"}, want: KindCommand},
		{name: "event", msg: pongEvent{ID: "1"}, want: KindEvent},
		{name: "nil", msg: nil, want: KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.msg); got != tc.want {
				t.Fatalf("KindOf: want=%s got=%s", tc.want, got)
			}
			if tc.msg != nil && tc.msg.Kind() != tc.want {
				t.Fatalf("Kind(): want=%s got=%s", tc.want, tc.msg.Kind())
			}
		})
	}
}
