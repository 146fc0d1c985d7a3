// Package uow scopes one handler invocation to one storage transaction.
//
// A UnitOfWork outlives its transactions: it remembers every product its repositories
// handed out, and CollectNewEvents moves pending events off those products.
package uow

import (
	"context"
	"iter"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/data/repos/views"
	"github.com/yungbote/allocation/internal/message"
)

// Tx is the transactional view handed to InTx callbacks.
type Tx interface {
	Products() products.Repository
	Allocations() views.Writer
	Commit() error
}

type UnitOfWork interface {
	// InTx runs fn in a new transaction. Anything not committed by fn is rolled back,
	// including when fn panics; the panic is re-raised afterwards.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// CollectNewEvents pops pending events from every seen product in first-seen order.
	CollectNewEvents() iter.Seq[message.Event]
}

type Factory interface {
	New() UnitOfWork
}

type tracker struct {
	seen *products.Seen
}

func newTracker() tracker { return tracker{seen: products.NewSeen()} }

func (t tracker) CollectNewEvents() iter.Seq[message.Event] {
	return func(yield func(message.Event) bool) {
		for _, p := range t.seen.All() {
			for {
				evt, ok := p.PopEvent()
				if !ok {
					break
				}
				if !yield(evt) {
					return
				}
			}
		}
	}
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
