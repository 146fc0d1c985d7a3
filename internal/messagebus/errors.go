package messagebus

import "errors"

var (
	// ErrUnknownMessage is returned for nil or for values that are neither Command nor Event.
	ErrUnknownMessage = errors.New("messagebus: unknown message kind")
	// ErrUnhandledCommand is returned before any work starts when no handler owns the command.
	ErrUnhandledCommand = errors.New("messagebus: no handler registered for command")
	// ErrHandlerPanic wraps a value recovered from a handler panic.
	ErrHandlerPanic = errors.New("messagebus: handler panicked")

	ErrRegistryRequired = errors.New("messagebus: registry required")
	ErrUnitsRequired    = errors.New("messagebus: unit of work factory required")

	ErrDuplicateHandler    = errors.New("messagebus: duplicate handler")
	ErrInvalidRegistration = errors.New("messagebus: invalid registration")
	ErrBuilderUsed         = errors.New("messagebus: registry builder already built")
	ErrHandlerTypeMismatch = errors.New("messagebus: message does not match handler type")
)
