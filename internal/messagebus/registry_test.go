package messagebus

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/allocation/internal/data/uow"
)

func okPing(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) { return Done(nil), nil }
func okTick(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) { return Done(nil), nil }

func TestRegistryPreservesEventHandlerOrder(t *testing.T) {
	b := NewRegistryBuilder()
	OnEvent(b, "third_party_first", okTick)
	OnEvent(b, "read_model", okTick)
	OnEvent(b, "audit", okTick)
	OnCommand(b, "ping", okPing)
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := reg.EventHandlerNames("test.tick")
	want := []string{"third_party_first", "read_model", "audit"}
	if len(got) != len(want) {
		t.Fatalf("names: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names: got=%v want=%v", got, want)
		}
	}
	if types := reg.CommandTypes(); len(types) != 1 || types[0] != "test.ping" {
		t.Fatalf("command types: %v", types)
	}
	if reg.CommandHandlerName("test.ping") != "ping" {
		t.Fatalf("command handler name")
	}
	if len(reg.EventHandlerNames("test.unknown")) != 0 {
		t.Fatalf("unknown event has handlers")
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	cases := []struct {
		name     string
		register func(b *RegistryBuilder)
		want     error
	}{
		{"duplicate command", func(b *RegistryBuilder) {
			OnCommand(b, "first", okPing)
			OnCommand(b, "second", okPing)
		}, ErrDuplicateHandler},
		{"duplicate event handler name", func(b *RegistryBuilder) {
			OnEvent(b, "same", okTick)
			OnEvent(b, "same", okTick)
		}, ErrDuplicateHandler},
		{"empty name", func(b *RegistryBuilder) {
			OnCommand(b, "  ", okPing)
		}, ErrInvalidRegistration},
		{"nil handler", func(b *RegistryBuilder) {
			OnEvent[tickEvt](b, "nil", nil)
		}, ErrInvalidRegistration},
		{"pointer message type", func(b *RegistryBuilder) {
			OnCommand(b, "ptr", func(ctx context.Context, u uow.UnitOfWork, c *pingCmd) (Outcome, error) { return Done(nil), nil })
		}, ErrInvalidRegistration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewRegistryBuilder()
			tc.register(b)
			if _, err := b.Build(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegistryBuilderIsSingleUse(t *testing.T) {
	b := NewRegistryBuilder()
	OnCommand(b, "ping", okPing)
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	OnEvent(b, "late", okTick)
	if len(reg.EventHandlerNames("test.tick")) != 0 {
		t.Fatalf("late registration leaked into built registry")
	}
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}
