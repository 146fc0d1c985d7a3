package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/envutil"
)

// Metrics is a small Prometheus text exposition registry for the service.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	dispatchTotal   *CounterVec
	dispatchLatency *HistogramVec
	failuresTotal   *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

// Enabled reports whether METRICS_ENABLED is on.
func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func NewMetrics() *Metrics {
	latencyBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	return &Metrics{
		apiRequests: NewCounterVec("alloc_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"alloc_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			latencyBuckets,
		),
		apiInflight:   NewGauge("alloc_api_inflight_requests", "In-flight API requests."),
		dispatchTotal: NewCounterVec("alloc_dispatch_invocations_total", "Handler invocations by message type/handler/status.", []string{"message_type", "handler", "status"}),
		dispatchLatency: NewHistogramVec(
			"alloc_dispatch_duration_seconds",
			"Handler invocation latency in seconds by message type/handler.",
			[]string{"message_type", "handler"},
			latencyBuckets,
		),
		failuresTotal: NewCounterVec("alloc_dispatch_failures_total", "Failed handler invocations by message type/handler.", []string{"message_type", "handler"}),
		pgStats:       NewGaugeVec("alloc_postgres_pool", "Database pool statistics.", []string{"stat"}),
		redisUp:       NewGauge("alloc_redis_up", "1 when the last redis ping succeeded."),
		redisPing:     NewGauge("alloc_redis_ping_seconds", "Latency of the last redis ping."),
	}
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(m.WriteHTTP)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []collector{
		m.apiRequests,
		m.apiLatency,
		m.apiInflight,
		m.dispatchTotal,
		m.dispatchLatency,
		m.failuresTotal,
		m.pgStats,
		m.redisUp,
		m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveDispatch records one handler invocation.
func (m *Metrics) ObserveDispatch(messageType, handler, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.dispatchTotal.Inc(messageType, handler, status)
	m.dispatchLatency.Observe(dur.Seconds(), messageType, handler)
	if isFailureStatus(status) {
		m.failuresTotal.Inc(messageType, handler)
	}
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		if log != nil {
			log.Warn("metrics: postgres collector disabled", "error", err)
		}
		return
	}
	go every(ctx, scrapeInterval(), func() {
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	go every(ctx, scrapeInterval(), func() {
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			m.redisUp.Set(0)
			if log != nil {
				log.Debug("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 15*time.Second)
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "timeout", "panic":
		return true
	default:
		return false
	}
}
