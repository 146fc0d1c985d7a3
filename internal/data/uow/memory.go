package uow

import (
	"context"
	"sync/atomic"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/data/repos/views"
)

// MemoryFactory backs units of work with process-local stores.
type MemoryFactory struct {
	products  *products.MemoryStore
	views     *views.MemoryStore
	committed atomic.Int64
}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{
		products: products.NewMemoryStore(),
		views:    views.NewMemoryStore(),
	}
}

func (f *MemoryFactory) New() UnitOfWork {
	return &memoryUnit{tracker: newTracker(), factory: f}
}

// Products exposes committed products for assertions.
func (f *MemoryFactory) Products() *products.MemoryStore { return f.products }

// Views is the committed read model.
func (f *MemoryFactory) Views() views.Reader { return f.views }

// Committed counts successful commits across all units of work.
func (f *MemoryFactory) Committed() int64 { return f.committed.Load() }

type memoryUnit struct {
	tracker
	factory *MemoryFactory
}

func (u *memoryUnit) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx = ctxOrBackground(ctx)
	session := products.NewMemorySession(u.factory.products)
	t := &memoryTx{
		ctx:     ctx,
		factory: u.factory,
		session: session,
		repo:    products.NewTrackingRepository(session, u.seen),
		views:   views.NewMemoryWriter(u.factory.views),
	}
	// staged writes are simply dropped on any path that skips Commit
	return fn(t)
}

type memoryTx struct {
	ctx     context.Context
	factory *MemoryFactory
	session products.Session
	repo    *products.TrackingRepository
	views   *views.MemoryWriter
	done    bool
}

func (t *memoryTx) Products() products.Repository { return t.repo }
func (t *memoryTx) Allocations() views.Writer     { return t.views }

func (t *memoryTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.session.Flush(t.ctx); err != nil {
		return MapError("uow.commit", err)
	}
	t.views.Flush()
	t.factory.committed.Add(1)
	return nil
}
