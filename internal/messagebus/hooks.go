package messagebus

import (
	"strings"
	"time"

	"github.com/yungbote/allocation/internal/observability"
)

const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusPanic   = "panic"
)

// Hooks captures per-invocation dispatch signals.
type Hooks interface {
	ObserveHandler(messageType, handler, status string, dur time.Duration)
}

type noopHooks struct{}

func (noopHooks) ObserveHandler(string, string, string, time.Duration) {}

type observabilityHooks struct {
	metrics *observability.Metrics
}

// NewObservabilityHooks creates dispatch hooks backed by observability metrics.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return noopHooks{}
	}
	return &observabilityHooks{metrics: metrics}
}

func (h *observabilityHooks) ObserveHandler(messageType, handler, status string, dur time.Duration) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.ObserveDispatch(strings.TrimSpace(messageType), strings.TrimSpace(handler), status, dur)
}
