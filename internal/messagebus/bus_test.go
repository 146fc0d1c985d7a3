package messagebus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/allocation/internal/data/uow"
	"github.com/yungbote/allocation/internal/message"
)

type pingCmd struct {
	message.CommandBase
	ID string `json:"id"`
}

func (pingCmd) MessageType() string { return "test.ping" }

type orphanCmd struct {
	message.CommandBase
}

func (orphanCmd) MessageType() string { return "test.orphan" }

type tickEvt struct {
	message.EventBase
	N int `json:"n"`
}

func (tickEvt) MessageType() string { return "test.tick" }

type tockEvt struct {
	message.EventBase
	Label string `json:"label"`
}

func (tockEvt) MessageType() string { return "test.tock" }

type bareMessage struct{}

func (bareMessage) MessageType() string { return "test.bare" }
func (bareMessage) Kind() message.Kind  { return message.KindCommand }

// fakeUnit lets handlers queue arbitrary events for collection.
type fakeUnit struct {
	pending []message.Event
}

func (u *fakeUnit) InTx(ctx context.Context, fn func(tx uow.Tx) error) error { return fn(nil) }

func (u *fakeUnit) CollectNewEvents() iter.Seq[message.Event] {
	return func(yield func(message.Event) bool) {
		for len(u.pending) > 0 {
			evt := u.pending[0]
			u.pending = u.pending[1:]
			if !yield(evt) {
				return
			}
		}
	}
}

func emit(u uow.UnitOfWork, evts ...message.Event) {
	f := u.(*fakeUnit)
	f.pending = append(f.pending, evts...)
}

type fakeUnits struct {
	created atomic.Int64
}

func (f *fakeUnits) New() uow.UnitOfWork {
	f.created.Add(1)
	return &fakeUnit{}
}

type sinkRecorder struct {
	mu      sync.Mutex
	records []FailureRecord
}

func (s *sinkRecorder) RecordFailure(ctx context.Context, rec FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type hookCall struct {
	MessageType string
	Handler     string
	Status      string
}

type hooksRecorder struct {
	mu    sync.Mutex
	calls []hookCall
}

func (h *hooksRecorder) ObserveHandler(messageType, handler, status string, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hookCall{MessageType: messageType, Handler: handler, Status: status})
}

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (t *stepLog) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, fmt.Sprintf(format, args...))
}

func (t *stepLog) assert(tb testing.TB, want ...string) {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.steps) != len(want) {
		tb.Fatalf("steps: got=%v want=%v", t.steps, want)
	}
	for i := range want {
		if t.steps[i] != want[i] {
			tb.Fatalf("step %d: got=%q want=%q (all=%v)", i, t.steps[i], want[i], t.steps)
		}
	}
}

type fixture struct {
	bus   *Bus
	units *fakeUnits
	sink  *sinkRecorder
	hooks *hooksRecorder
}

func newFixture(t *testing.T, register func(b *RegistryBuilder)) fixture {
	t.Helper()
	b := NewRegistryBuilder()
	register(b)
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	f := fixture{units: &fakeUnits{}, sink: &sinkRecorder{}, hooks: &hooksRecorder{}}
	f.bus, err = New(Deps{Registry: reg, Units: f.units, Sink: f.sink, Hooks: f.hooks})
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	return f
}

func TestNewRequiresRegistryAndUnits(t *testing.T) {
	reg, _ := NewRegistryBuilder().Build()
	if _, err := New(Deps{Units: &fakeUnits{}}); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("expected ErrRegistryRequired, got %v", err)
	}
	if _, err := New(Deps{Registry: reg}); !errors.Is(err, ErrUnitsRequired) {
		t.Fatalf("expected ErrUnitsRequired, got %v", err)
	}
}

func TestCommandReturnsHandlerValue(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			return Done("pong:" + c.ID), nil
		})
	})
	got, err := f.bus.Handle(context.Background(), pingCmd{ID: "1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != "pong:1" {
		t.Fatalf("result: got=%v", got)
	}
}

func TestCommandFailurePropagatesUnchangedAndStopsDraining(t *testing.T) {
	errBoom := errors.New("boom")
	tr := &stepLog{}
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			emit(u, tickEvt{N: 1})
			return Outcome{}, errBoom
		})
		OnEvent(b, "count", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("tick %d", e.N)
			return Done(nil), nil
		})
	})
	got, err := f.bus.Handle(context.Background(), pingCmd{ID: "1"})
	if err != errBoom {
		t.Fatalf("expected the handler error itself, got %v", err)
	}
	if got != nil {
		t.Fatalf("result on failure: %v", got)
	}
	tr.assert(t)
	if len(f.sink.records) != 1 {
		t.Fatalf("sink records: %d", len(f.sink.records))
	}
	rec := f.sink.records[0]
	if !rec.Fatal || rec.Handler != "ping" || rec.MessageType != "test.ping" || rec.Err != errBoom || rec.Kind != FailureKindError {
		t.Fatalf("record: %+v", rec)
	}
	if rec.MessageIdentity != `test.ping {"id":"1"}` {
		t.Fatalf("identity: %q", rec.MessageIdentity)
	}
}

func TestEventHandlerFailuresAreIsolated(t *testing.T) {
	tr := &stepLog{}
	f := newFixture(t, func(b *RegistryBuilder) {
		OnEvent(b, "fails", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("fails")
			return Outcome{}, errors.New("nope")
		})
		OnEvent(b, "panics", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("panics")
			panic("kaboom")
		})
		OnEvent(b, "works", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("works")
			return Done(nil), nil
		})
	})
	got, err := f.bus.Handle(context.Background(), tickEvt{N: 1})
	if err != nil || got != nil {
		t.Fatalf("Handle: got=%v err=%v", got, err)
	}
	tr.assert(t, "fails", "panics", "works")

	if len(f.sink.records) != 2 {
		t.Fatalf("sink records: %d", len(f.sink.records))
	}
	if r := f.sink.records[0]; r.Fatal || r.Kind != FailureKindError || r.Handler != "fails" {
		t.Fatalf("first record: %+v", r)
	}
	if r := f.sink.records[1]; r.Fatal || r.Kind != FailureKindPanic || !errors.Is(r.Err, ErrHandlerPanic) {
		t.Fatalf("second record: %+v", r)
	}
	statuses := []string{StatusFailed, StatusPanic, StatusSuccess}
	for i, call := range f.hooks.calls {
		if call.Status != statuses[i] {
			t.Fatalf("hook %d: %+v", i, call)
		}
	}
}

func TestFailedEventHandlerStillDrains(t *testing.T) {
	tr := &stepLog{}
	f := newFixture(t, func(b *RegistryBuilder) {
		OnEvent(b, "half_done", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			emit(u, tockEvt{Label: "after-failure"})
			return Outcome{}, errors.New("nope")
		})
		OnEvent(b, "record", func(ctx context.Context, u uow.UnitOfWork, e tockEvt) (Outcome, error) {
			tr.add("tock %s", e.Label)
			return Done(nil), nil
		})
	})
	if _, err := f.bus.Handle(context.Background(), tickEvt{N: 1}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	tr.assert(t, "tock after-failure")
}

func TestDrainIsBreadthFirst(t *testing.T) {
	tr := &stepLog{}
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			tr.add("ping")
			emit(u, tickEvt{N: 1}, tickEvt{N: 2})
			return Done("ok"), nil
		})
		OnEvent(b, "tick_a", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("tick_a %d", e.N)
			if e.N == 1 {
				emit(u, tockEvt{Label: "from-1a"})
			}
			return Done(nil), nil
		})
		OnEvent(b, "tick_b", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			tr.add("tick_b %d", e.N)
			if e.N == 1 {
				emit(u, tockEvt{Label: "from-1b"})
			}
			return Done(nil), nil
		})
		OnEvent(b, "tock", func(ctx context.Context, u uow.UnitOfWork, e tockEvt) (Outcome, error) {
			tr.add("tock %s", e.Label)
			return Done("ignored"), nil
		})
	})
	got, err := f.bus.Handle(context.Background(), pingCmd{ID: "x"})
	if err != nil || got != "ok" {
		t.Fatalf("Handle: got=%v err=%v", got, err)
	}
	tr.assert(t,
		"ping",
		"tick_a 1", "tick_b 1",
		"tick_a 2", "tick_b 2",
		"tock from-1a", "tock from-1b",
	)
	// one unit of work per handler invocation
	if n := f.units.created.Load(); n != 7 {
		t.Fatalf("units created: got=%d want=7", n)
	}
}

func TestSkipIsNotAFailure(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			return Skip("already done"), nil
		})
	})
	got, err := f.bus.Handle(context.Background(), pingCmd{ID: "1"})
	if err != nil || got != nil {
		t.Fatalf("Handle: got=%v err=%v", got, err)
	}
	if len(f.sink.records) != 0 {
		t.Fatalf("skip was recorded as failure")
	}
	if len(f.hooks.calls) != 1 || f.hooks.calls[0].Status != StatusSkipped {
		t.Fatalf("hooks: %+v", f.hooks.calls)
	}
}

func TestUnknownMessageKind(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {})
	for _, msg := range []message.Message{nil, bareMessage{}} {
		if _, err := f.bus.Handle(context.Background(), msg); !errors.Is(err, ErrUnknownMessage) {
			t.Fatalf("%T: expected ErrUnknownMessage, got %v", msg, err)
		}
	}
	if f.units.created.Load() != 0 {
		t.Fatalf("unit of work created for unknown message")
	}
}

func TestUnhandledCommandFailsBeforeAnyUnitOfWork(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			return Done(nil), nil
		})
	})
	_, err := f.bus.Handle(context.Background(), orphanCmd{})
	if !errors.Is(err, ErrUnhandledCommand) {
		t.Fatalf("expected ErrUnhandledCommand, got %v", err)
	}
	if f.units.created.Load() != 0 {
		t.Fatalf("unit of work created: %d", f.units.created.Load())
	}
	if len(f.sink.records) != 0 {
		t.Fatalf("unexpected sink records")
	}
}

func TestEventWithoutHandlersIsNoop(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {})
	got, err := f.bus.Handle(context.Background(), tockEvt{Label: "nobody"})
	if err != nil || got != nil {
		t.Fatalf("Handle: got=%v err=%v", got, err)
	}
}

func TestCommandPanicIsRecordedAndRaised(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			panic("bad")
		})
	})
	defer func() {
		if r := recover(); r != "bad" {
			t.Fatalf("expected re-panic, got %v", r)
		}
		if len(f.sink.records) != 1 || !f.sink.records[0].Fatal || f.sink.records[0].Kind != FailureKindPanic {
			t.Fatalf("records: %+v", f.sink.records)
		}
	}()
	_, _ = f.bus.Handle(context.Background(), pingCmd{ID: "1"})
	t.Fatalf("Handle returned")
}

func TestConcurrentHandleCallsAreIndependent(t *testing.T) {
	f := newFixture(t, func(b *RegistryBuilder) {
		OnCommand(b, "ping", func(ctx context.Context, u uow.UnitOfWork, c pingCmd) (Outcome, error) {
			emit(u, tickEvt{N: 1})
			return Done(c.ID), nil
		})
		OnEvent(b, "tick", func(ctx context.Context, u uow.UnitOfWork, e tickEvt) (Outcome, error) {
			return Done(nil), nil
		})
	})
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			got, err := f.bus.Handle(context.Background(), pingCmd{ID: id})
			if err != nil {
				errs <- err
				return
			}
			if got != id {
				errs <- fmt.Errorf("got %v want %s", got, id)
			}
		}(fmt.Sprint(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if n := f.units.created.Load(); n != 64 {
		t.Fatalf("units created: got=%d want=64", n)
	}
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	a, b := &sinkRecorder{}, &sinkRecorder{}
	failing := sinkFunc(func(ctx context.Context, rec FailureRecord) error { return errors.New("down") })
	err := MultiSink{a, nil, failing, b}.RecordFailure(context.Background(), FailureRecord{Handler: "h"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("fan out: a=%d b=%d", len(a.records), len(b.records))
	}
}

type sinkFunc func(ctx context.Context, rec FailureRecord) error

func (f sinkFunc) RecordFailure(ctx context.Context, rec FailureRecord) error { return f(ctx, rec) }
