package uow

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/data/repos/views"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

type gormFactory struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormFactory(db *gorm.DB, baseLog *logger.Logger) Factory {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &gormFactory{db: db, log: baseLog.With("component", "GormUnitOfWork")}
}

func (f *gormFactory) New() UnitOfWork {
	return &gormUnit{tracker: newTracker(), db: f.db, log: f.log}
}

type gormUnit struct {
	tracker
	db  *gorm.DB
	log *logger.Logger
}

func (u *gormUnit) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx = ctxOrBackground(ctx)
	db := u.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return MapError("uow.begin", db.Error)
	}
	session := products.NewGormSession(db, u.log)
	t := &gormTx{
		ctx:     ctx,
		db:      db,
		log:     u.log,
		session: session,
		repo:    products.NewTrackingRepository(session, u.seen),
		views:   views.NewGormWriter(db, u.log),
	}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
		t.rollback()
	}()
	return fn(t)
}

type gormTx struct {
	ctx     context.Context
	db      *gorm.DB
	log     *logger.Logger
	session products.Session
	repo    *products.TrackingRepository
	views   views.Writer
	done    bool
}

func (t *gormTx) Products() products.Repository { return t.repo }
func (t *gormTx) Allocations() views.Writer     { return t.views }

func (t *gormTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.session.Flush(t.ctx); err != nil {
		t.db.Rollback()
		return MapError("uow.commit", err)
	}
	if err := t.db.Commit().Error; err != nil {
		return MapError("uow.commit", err)
	}
	return nil
}

func (t *gormTx) rollback() {
	if t.done {
		return
	}
	t.done = true
	if err := t.db.Rollback().Error; err != nil {
		t.log.Warn("rollback failed", "error", err)
	}
}
