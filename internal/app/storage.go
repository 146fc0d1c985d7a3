package app

import (
	"fmt"

	"github.com/yungbote/allocation/internal/data/db"
	"github.com/yungbote/allocation/internal/data/repos/failures"
	"github.com/yungbote/allocation/internal/data/repos/views"
	"github.com/yungbote/allocation/internal/data/uow"
	"github.com/yungbote/allocation/internal/messagebus"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

type Storage struct {
	DB       *db.Service
	Units    uow.Factory
	Views    views.Reader
	Failures *failures.Store
}

func wireStorage(log *logger.Logger, cfg db.Config) (Storage, error) {
	if cfg.Driver == DriverMemory {
		log.Warn("using in-memory storage; state is lost on restart")
		units := uow.NewMemoryFactory()
		return Storage{Units: units, Views: units.Views()}, nil
	}

	svc, err := db.Open(cfg, log)
	if err != nil {
		return Storage{}, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		_ = svc.Close()
		return Storage{}, fmt.Errorf("automigrate: %w", err)
	}
	return Storage{
		DB:       svc,
		Units:    uow.NewGormFactory(svc.DB(), log),
		Views:    views.NewGormReader(svc.DB(), log),
		Failures: failures.NewStore(svc.DB(), log),
	}, nil
}

// failureSink always logs, and persists too when a database is available.
func (s Storage) failureSink(log *logger.Logger) messagebus.FailureSink {
	sinks := messagebus.MultiSink{messagebus.NewLogSink(log)}
	if s.Failures != nil {
		sinks = append(sinks, s.Failures)
	}
	return sinks
}

func (s Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
