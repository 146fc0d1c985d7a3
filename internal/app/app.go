// Package app is the composition root: it builds storage, adapters, the handler
// registry and the message bus from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/yungbote/allocation/internal/consumer"
	apphttp "github.com/yungbote/allocation/internal/http"
	httpH "github.com/yungbote/allocation/internal/http/handlers"
	"github.com/yungbote/allocation/internal/messagebus"
	"github.com/yungbote/allocation/internal/observability"
	"github.com/yungbote/allocation/internal/pkg/logger"
	"github.com/yungbote/allocation/internal/platform/redisbus"
	"github.com/yungbote/allocation/internal/services/allocation"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Storage  Storage
	Clients  Clients
	Metrics  *observability.Metrics
	Registry *messagebus.Registry
	Bus      *messagebus.Bus
	Server   *apphttp.Server
	// Consumer is nil when redis is not configured.
	Consumer *consumer.Consumer

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	boot := logger.Nop()
	cfg, err := LoadConfig(boot)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewWithConfig(ctx, log, cfg)
}

// NewWithConfig wires the application around an existing logger and config.
func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Otel)
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
		log.Info("metrics enabled")
	}

	storage, err := wireStorage(log, cfg.DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Storage = storage

	clients, err := wireClients(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Clients = clients

	if err := a.wireBus(); err != nil {
		a.Close()
		return nil, err
	}

	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	var healthStore httpH.Pinger
	if storage.DB != nil {
		healthStore = storage.DB
	}
	a.Server = apphttp.NewServer(apphttp.RouterConfig{
		Log:         log,
		Metrics:     a.Metrics,
		ServiceName: serviceName,
		CORSOrigins: cfg.CORSOrigins,
		AllocationHandler: httpH.NewAllocationHandler(httpH.AllocationHandlerDeps{
			Bus:   a.Bus,
			Views: storage.Views,
			Log:   log,
		}),
		HealthHandler: httpH.NewHealthHandler(healthStore),
	})

	if clients.Redis != nil {
		c, err := consumer.New(clients.Redis, a.Bus, log, cfg.ChangeQuantityChannel)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Consumer = c
	}
	return a, nil
}

func (a *App) wireBus() error {
	var publisher redisbus.Publisher
	if a.Clients.Redis != nil {
		publisher = a.Clients.Redis
	}
	handlers, err := allocation.NewHandlers(allocation.Deps{
		Publisher:           publisher,
		Notifications:       a.Clients.Notifications,
		Log:                 a.Log,
		AllocatedChannel:    a.Cfg.AllocatedChannel,
		OutOfStockRecipient: a.Cfg.OutOfStockRecipient,
	})
	if err != nil {
		return fmt.Errorf("init handlers: %w", err)
	}
	b := messagebus.NewRegistryBuilder()
	handlers.Register(b)
	reg, err := b.Build()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	bus, err := messagebus.New(messagebus.Deps{
		Registry: reg,
		Units:    a.Storage.Units,
		Sink:     a.Storage.failureSink(a.Log),
		Hooks:    messagebus.NewObservabilityHooks(a.Metrics),
		Log:      a.Log,
	})
	if err != nil {
		return fmt.Errorf("init message bus: %w", err)
	}
	a.Registry = reg
	a.Bus = bus
	a.Log.Info("message bus ready", "commands", len(reg.CommandTypes()), "events", len(reg.EventTypes()))
	return nil
}

// StartCollectors begins background metrics scraping until ctx is done.
func (a *App) StartCollectors(ctx context.Context) {
	if a == nil || a.Metrics == nil {
		return
	}
	if a.Storage.DB != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.Storage.DB.DB())
	}
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis.Redis())
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if err := a.Storage.Close(); err != nil && a.Log != nil {
		a.Log.Warn("database close failed", "error", err)
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
