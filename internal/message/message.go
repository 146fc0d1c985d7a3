// Package message defines the two message variants the dispatch core accepts.
//
// A Command is a request with exactly one handler whose failure is returned to the
// caller. An Event is a fact with zero or more handlers whose failures are isolated.
// Both variants are closed: a type becomes a Command or an Event only by embedding
// CommandBase or EventBase.
package message

// Kind tags the variant of a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommand
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the common surface of commands and events.
// MessageType returns the dispatch tag and must be stable for a given Go type.
type Message interface {
	MessageType() string
	Kind() Kind
}

// Command is a Message with exactly one handler.
type Command interface {
	Message
	isCommand()
}

// Event is a Message with zero or more handlers.
type Event interface {
	Message
	isEvent()
}

// CommandBase marks a struct as a Command when embedded.
type CommandBase struct{}

func (CommandBase) Kind() Kind { return KindCommand }
func (CommandBase) isCommand() {}

// EventBase marks a struct as an Event when embedded.
type EventBase struct{}

func (EventBase) Kind() Kind { return KindEvent }
func (EventBase) isEvent()   {}

// KindOf reports the variant of m, or KindUnknown for nil.
func KindOf(m Message) Kind {
	switch m.(type) {
	case Command:
		return KindCommand
	case Event:
		return KindEvent
	default:
		return KindUnknown
	}
}
