package messagebus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/allocation/internal/pkg/logger"
)

const (
	FailureKindError = "error"
	FailureKindPanic = "panic"
)

// FailureRecord describes one handler failure caught by the bus.
type FailureRecord struct {
	ID              uuid.UUID
	MessageType     string
	MessageIdentity string
	Handler         string
	Kind            string
	// Fatal is set for command failures, which abort the Handle call.
	Fatal      bool
	Err        error
	Payload    []byte
	OccurredAt time.Time
}

type FailureSink interface {
	RecordFailure(ctx context.Context, rec FailureRecord) error
}

type noopSink struct{}

func (noopSink) RecordFailure(context.Context, FailureRecord) error { return nil }

// LogSink writes failure records to the structured log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(baseLog *logger.Logger) *LogSink {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &LogSink{log: baseLog.With("component", "DispatchFailureLog")}
}

func (s *LogSink) RecordFailure(ctx context.Context, rec FailureRecord) error {
	kv := []interface{}{
		"failure_id", rec.ID.String(),
		"message_type", rec.MessageType,
		"message", rec.MessageIdentity,
		"handler", rec.Handler,
		"kind", rec.Kind,
		"fatal", rec.Fatal,
		"error", rec.Err,
	}
	if rec.Fatal {
		s.log.Warn("command handler failed", kv...)
		return nil
	}
	s.log.Error("event handler failed", kv...)
	return nil
}

// MultiSink fans a record out to every sink, even when some of them fail.
type MultiSink []FailureSink

func (m MultiSink) RecordFailure(ctx context.Context, rec FailureRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.RecordFailure(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
