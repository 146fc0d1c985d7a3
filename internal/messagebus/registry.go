package messagebus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/yungbote/allocation/internal/data/uow"
	"github.com/yungbote/allocation/internal/message"
)

type handlerFunc func(ctx context.Context, u uow.UnitOfWork, m message.Message) (Outcome, error)

type handlerEntry struct {
	name string
	fn   handlerFunc
}

// Registry maps message types to handlers. It is immutable once built and safe for
// concurrent use.
type Registry struct {
	commands map[string]handlerEntry
	events   map[string][]handlerEntry
}

func (r *Registry) command(tag string) (handlerEntry, bool) {
	h, ok := r.commands[tag]
	return h, ok
}

func (r *Registry) eventHandlers(tag string) []handlerEntry {
	return r.events[tag]
}

// CommandTypes lists registered command tags, sorted.
func (r *Registry) CommandTypes() []string {
	out := make([]string, 0, len(r.commands))
	for tag := range r.commands {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// EventTypes lists event tags with at least one handler, sorted.
func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.events))
	for tag := range r.events {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// CommandHandlerName returns the name of the handler owning tag, or "".
func (r *Registry) CommandHandlerName(tag string) string {
	return r.commands[tag].name
}

// EventHandlerNames returns handler names for tag in invocation order.
func (r *Registry) EventHandlerNames(tag string) []string {
	hs := r.events[tag]
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.name)
	}
	return out
}

// RegistryBuilder collects registrations. Errors are reported together by Build.
type RegistryBuilder struct {
	commands map[string]handlerEntry
	events   map[string][]handlerEntry
	errs     []error
	built    bool
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		commands: make(map[string]handlerEntry),
		events:   make(map[string][]handlerEntry),
	}
}

// OnCommand registers the single handler for command type C.
func OnCommand[C message.Command](b *RegistryBuilder, name string, fn func(context.Context, uow.UnitOfWork, C) (Outcome, error)) {
	tag, entry, err := entryFor(b, name, fn)
	if err != nil {
		b.errs = append(b.errs, err)
		return
	}
	if existing, ok := b.commands[tag]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: command %s already handled by %s", ErrDuplicateHandler, tag, existing.name))
		return
	}
	b.commands[tag] = entry
}

// OnEvent appends a handler for event type E. Handlers run in registration order.
func OnEvent[E message.Event](b *RegistryBuilder, name string, fn func(context.Context, uow.UnitOfWork, E) (Outcome, error)) {
	tag, entry, err := entryFor(b, name, fn)
	if err != nil {
		b.errs = append(b.errs, err)
		return
	}
	for _, existing := range b.events[tag] {
		if existing.name == entry.name {
			b.errs = append(b.errs, fmt.Errorf("%w: event %s already has handler %s", ErrDuplicateHandler, tag, entry.name))
			return
		}
	}
	b.events[tag] = append(b.events[tag], entry)
}

func entryFor[M message.Message](b *RegistryBuilder, name string, fn func(context.Context, uow.UnitOfWork, M) (Outcome, error)) (string, handlerEntry, error) {
	if b.built {
		return "", handlerEntry{}, ErrBuilderUsed
	}
	var zero M
	if reflect.TypeOf(zero) == nil || reflect.TypeOf(zero).Kind() == reflect.Pointer {
		return "", handlerEntry{}, fmt.Errorf("%w: %T must be a value type", ErrInvalidRegistration, zero)
	}
	tag := zero.MessageType()
	name = strings.TrimSpace(name)
	switch {
	case tag == "":
		return "", handlerEntry{}, fmt.Errorf("%w: %T has an empty message type", ErrInvalidRegistration, zero)
	case name == "":
		return "", handlerEntry{}, fmt.Errorf("%w: empty handler name for %s", ErrInvalidRegistration, tag)
	case fn == nil:
		return "", handlerEntry{}, fmt.Errorf("%w: nil handler %s for %s", ErrInvalidRegistration, name, tag)
	}
	return tag, handlerEntry{
		name: name,
		fn: func(ctx context.Context, u uow.UnitOfWork, m message.Message) (Outcome, error) {
			typed, ok := m.(M)
			if !ok {
				return Outcome{}, fmt.Errorf("%w: %s got %T", ErrHandlerTypeMismatch, name, m)
			}
			return fn(ctx, u, typed)
		},
	}, nil
}

// Build freezes the registrations. The builder cannot be used afterwards.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	b.built = true
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	reg := &Registry{
		commands: make(map[string]handlerEntry, len(b.commands)),
		events:   make(map[string][]handlerEntry, len(b.events)),
	}
	for tag, h := range b.commands {
		reg.commands[tag] = h
	}
	for tag, hs := range b.events {
		reg.events[tag] = append([]handlerEntry(nil), hs...)
	}
	b.commands, b.events = nil, nil
	return reg, nil
}
