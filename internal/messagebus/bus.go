// Package messagebus dispatches commands and events to their handlers.
//
// Handle drains a call-local queue: the inbound message first, then every event the
// handlers' units of work collected, in arrival order, until nothing is left. Command
// failures abort the call and reach the caller unchanged. Event handler failures are
// recorded and dispatch carries on.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/allocation/internal/data/uow"
	"github.com/yungbote/allocation/internal/message"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

const tracerName = "github.com/yungbote/allocation/internal/messagebus"

type Deps struct {
	Registry *Registry
	Units    uow.Factory
	Sink     FailureSink
	Hooks    Hooks
	Log      *logger.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
}

type Bus struct {
	registry *Registry
	units    uow.Factory
	sink     FailureSink
	hooks    Hooks
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func New(deps Deps) (*Bus, error) {
	if deps.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if deps.Units == nil {
		return nil, ErrUnitsRequired
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}
	if deps.Hooks == nil {
		deps.Hooks = noopHooks{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Bus{
		registry: deps.Registry,
		units:    deps.Units,
		sink:     deps.Sink,
		hooks:    deps.Hooks,
		log:      deps.Log.With("component", "MessageBus"),
		tracer:   deps.Tracer,
		now:      deps.Now,
	}, nil
}

// Handle dispatches msg and every event it transitively causes. For a command it returns
// the command handler's value; for an event it returns nil.
func (b *Bus) Handle(ctx context.Context, msg message.Message) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	kind := message.KindOf(msg)
	if kind == message.KindUnknown {
		return nil, ErrUnknownMessage
	}
	tag := msg.MessageType()
	if kind == message.KindCommand {
		if _, ok := b.registry.command(tag); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnhandledCommand, tag)
		}
	}

	ctx, span := b.tracer.Start(ctx, "messagebus.handle", trace.WithAttributes(
		attribute.String("messagebus.message_type", tag),
		attribute.String("messagebus.kind", kind.String()),
	))
	defer span.End()

	var (
		result    any
		processed int
	)
	queue := []message.Message{msg}
	for len(queue) > 0 {
		next := queue[0]
		queue[0] = nil
		queue = queue[1:]
		processed++

		switch m := next.(type) {
		case message.Command:
			out, err := b.handleCommand(ctx, m, &queue)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			result = out.Value
		case message.Event:
			b.handleEvent(ctx, m, &queue)
		default:
			// only commands and events are ever queued
			return nil, ErrUnknownMessage
		}
	}
	span.SetAttributes(attribute.Int("messagebus.processed", processed))
	if kind == message.KindEvent {
		return nil, nil
	}
	return result, nil
}

func (b *Bus) handleCommand(ctx context.Context, cmd message.Command, queue *[]message.Message) (Outcome, error) {
	h, ok := b.registry.command(cmd.MessageType())
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnhandledCommand, cmd.MessageType())
	}
	return b.invoke(ctx, cmd, h, true, queue)
}

func (b *Bus) handleEvent(ctx context.Context, evt message.Event, queue *[]message.Message) {
	for _, h := range b.registry.eventHandlers(evt.MessageType()) {
		// failures are recorded by invoke and never stop sibling handlers
		_, _ = b.invoke(ctx, evt, h, false, queue)
	}
}

// invoke runs one handler in a fresh unit of work and queues the events it collected,
// whatever the result. Command panics are recorded and re-raised; event panics are
// converted into failures.
func (b *Bus) invoke(ctx context.Context, m message.Message, h handlerEntry, fatal bool, queue *[]message.Message) (Outcome, error) {
	tag := m.MessageType()
	ctx, span := b.tracer.Start(ctx, "messagebus.invoke", trace.WithAttributes(
		attribute.String("messagebus.message_type", tag),
		attribute.String("messagebus.handler", h.name),
	))
	defer span.End()

	start := b.now()
	u := b.units.New()
	out, recovered, err := b.call(ctx, h, u, m)
	for evt := range u.CollectNewEvents() {
		*queue = append(*queue, evt)
	}
	dur := b.now().Sub(start)

	switch {
	case recovered != nil:
		b.hooks.ObserveHandler(tag, h.name, StatusPanic, dur)
		span.RecordError(err)
		span.SetStatus(codes.Error, "panic")
		b.recordFailure(ctx, m, h.name, FailureKindPanic, fatal, err)
		if fatal {
			panic(recovered)
		}
		return Outcome{}, err
	case err != nil:
		b.hooks.ObserveHandler(tag, h.name, StatusFailed, dur)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.recordFailure(ctx, m, h.name, FailureKindError, fatal, err)
		return Outcome{}, err
	case out.Skipped:
		b.hooks.ObserveHandler(tag, h.name, StatusSkipped, dur)
		span.SetAttributes(attribute.Bool("messagebus.skipped", true))
		b.log.Info("message skipped", "message_type", tag, "handler", h.name, "reason", out.Reason)
		return out, nil
	default:
		b.hooks.ObserveHandler(tag, h.name, StatusSuccess, dur)
		b.log.Debug("handler completed", "message_type", tag, "handler", h.name, "duration_ms", dur.Milliseconds())
		return out, nil
	}
}

func (b *Bus) call(ctx context.Context, h handlerEntry, u uow.UnitOfWork, m message.Message) (out Outcome, recovered any, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, h.name, r)
		}
	}()
	out, err = h.fn(ctx, u, m)
	return out, nil, err
}

func (b *Bus) recordFailure(ctx context.Context, m message.Message, handler, kind string, fatal bool, cause error) {
	payload, _ := json.Marshal(m)
	rec := FailureRecord{
		ID:              uuid.New(),
		MessageType:     m.MessageType(),
		MessageIdentity: Identity(m),
		Handler:         handler,
		Kind:            kind,
		Fatal:           fatal,
		Err:             cause,
		Payload:         payload,
		OccurredAt:      b.now().UTC(),
	}
	if err := b.sink.RecordFailure(ctx, rec); err != nil {
		b.log.Warn("failure sink rejected record", "failure_id", rec.ID.String(), "error", err)
	}
}

// Identity renders a message as its type followed by its JSON fields.
func Identity(m message.Message) string {
	if m == nil {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%s %+v", m.MessageType(), m)
	}
	return m.MessageType() + " " + string(raw)
}
