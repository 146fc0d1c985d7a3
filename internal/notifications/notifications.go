// Package notifications delivers operator-facing messages.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/sendgrid"
)

type Sender interface {
	Send(ctx context.Context, destination, message string) error
}

// EmailSender sends each message as a plain-text email whose subject is the message.
type EmailSender struct {
	client sendgrid.Client
	log    *logger.Logger
}

func NewEmailSender(client sendgrid.Client, log *logger.Logger) *EmailSender {
	if log == nil {
		log = logger.Nop()
	}
	return &EmailSender{client: client, log: log.With("service", "EmailSender")}
}

func (s *EmailSender) Send(ctx context.Context, destination, message string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return fmt.Errorf("notification destination required")
	}
	res, err := s.client.Send(ctx, sendgrid.SendEmailRequest{
		To:         []sendgrid.EmailAddress{{Email: destination}},
		Subject:    message,
		Text:       message,
		Categories: []string{"allocation"},
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	s.log.Info("email sent", "recipient", destination, "message_id", res.MessageID)
	return nil
}

// LogSender only logs. It stands in when no email provider is configured.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSender{log: log.With("service", "LogSender")}
}

func (s *LogSender) Send(ctx context.Context, destination, message string) error {
	s.log.Warn("notification (email disabled)", "recipient", destination, "message", message)
	return nil
}

type Sent struct {
	Destination string
	Message     string
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Send(ctx context.Context, destination, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Destination: destination, Message: message})
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}
