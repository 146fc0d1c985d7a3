package products_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/data/testutil"
	"github.com/yungbote/allocation/internal/domain/allocation"
)

type opener func(t *testing.T) (s products.Session, commit func() error, rollback func())

func gormOpener(gdb *gorm.DB) opener {
	return func(t *testing.T) (products.Session, func() error, func()) {
		t.Helper()
		tx := gdb.Begin()
		if tx.Error != nil {
			t.Fatalf("begin: %v", tx.Error)
		}
		s := products.NewGormSession(tx, testutil.Logger(t))
		done := false
		commit := func() error {
			done = true
			if err := s.Flush(context.Background()); err != nil {
				tx.Rollback()
				return err
			}
			return tx.Commit().Error
		}
		rollback := func() {
			if !done {
				done = true
				tx.Rollback()
			}
		}
		t.Cleanup(rollback)
		return s, commit, rollback
	}
}

func memoryOpener(store *products.MemoryStore) opener {
	return func(t *testing.T) (products.Session, func() error, func()) {
		s := products.NewMemorySession(store)
		return s, func() error { return s.Flush(context.Background()) }, func() {}
	}
}

func implementations(t *testing.T) map[string]opener {
	return map[string]opener{
		"gorm_sqlite": gormOpener(testutil.SQLite(t)),
		"memory":      memoryOpener(products.NewMemoryStore()),
	}
}

func seedProduct(t *testing.T, open opener) {
	t.Helper()
	ctx := context.Background()
	s, commit, _ := open(t)
	eta := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	p := allocation.NewProduct("RED-CHAIR", nil, 0)
	if err := p.AddBatch(allocation.NewBatch("b-stock", "RED-CHAIR", 10, nil)); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if err := p.AddBatch(allocation.NewBatch("b-ship", "RED-CHAIR", 20, &eta)); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if ref := p.Allocate(allocation.OrderLine{OrderID: "o1", SKU: "RED-CHAIR", Qty: 4}); ref != "b-stock" {
		t.Fatalf("allocate: ref=%q", ref)
	}
	if ref := p.Allocate(allocation.OrderLine{OrderID: "o2", SKU: "RED-CHAIR", Qty: 3}); ref != "b-stock" {
		t.Fatalf("allocate: ref=%q", ref)
	}
	if err := s.Add(ctx, p); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Get(ctx, "RED-CHAIR")
	if err != nil || got != p {
		t.Fatalf("get inside session: got=%p want=%p err=%v", got, p, err)
	}
	if err := commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRepositoryContract(t *testing.T) {
	ctx := context.Background()
	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			seedProduct(t, open)

			s, _, rollback := open(t)
			p, err := s.Get(ctx, "RED-CHAIR")
			if err != nil || p == nil {
				t.Fatalf("get: p=%v err=%v", p, err)
			}
			if p.VersionNumber != 4 {
				t.Fatalf("version: got=%d want=4", p.VersionNumber)
			}
			if len(p.Batches) != 2 {
				t.Fatalf("batches: got=%d", len(p.Batches))
			}
			stock := p.Batch("b-stock")
			if stock == nil || stock.AvailableQuantity() != 3 {
				t.Fatalf("b-stock: %+v", stock)
			}
			allocs := stock.Allocations()
			if len(allocs) != 2 || allocs[0].OrderID != "o1" || allocs[1].OrderID != "o2" {
				t.Fatalf("allocation order: %+v", allocs)
			}
			ship := p.Batch("b-ship")
			if ship == nil || ship.ETA == nil || !ship.ETA.Equal(time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("b-ship eta: %+v", ship)
			}
			if p.PendingEvents() != 0 {
				t.Fatalf("loaded product has %d pending events", p.PendingEvents())
			}

			again, err := s.Get(ctx, "RED-CHAIR")
			if err != nil || again != p {
				t.Fatalf("identity: got=%p want=%p", again, p)
			}
			byRef, err := s.GetByBatchRef(ctx, "b-ship")
			if err != nil || byRef != p {
				t.Fatalf("by batch ref: got=%p want=%p err=%v", byRef, p, err)
			}

			missing, err := s.Get(ctx, "NO-SUCH-SKU")
			if err != nil || missing != nil {
				t.Fatalf("missing sku: p=%v err=%v", missing, err)
			}
			missing, err = s.GetByBatchRef(ctx, "no-such-batch")
			if err != nil || missing != nil {
				t.Fatalf("missing batch: p=%v err=%v", missing, err)
			}
			rollback()
		})
	}
}

func TestRepositoryPersistsDeallocation(t *testing.T) {
	ctx := context.Background()
	for name, open := range implementations(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			seedProduct(t, open)

			s, commit, _ := open(t)
			p, err := s.GetByBatchRef(ctx, "b-stock")
			if err != nil || p == nil {
				t.Fatalf("get: %v", err)
			}
			if err := p.ChangeBatchQuantity("b-stock", 5); err != nil {
				t.Fatalf("change: %v", err)
			}
			if err := commit(); err != nil {
				t.Fatalf("commit: %v", err)
			}

			s, _, rollback := open(t)
			defer rollback()
			p, err = s.Get(ctx, "RED-CHAIR")
			if err != nil || p == nil {
				t.Fatalf("reload: %v", err)
			}
			b := p.Batch("b-stock")
			if b.PurchasedQuantity() != 5 || b.AvailableQuantity() != 1 {
				t.Fatalf("b-stock: purchased=%d available=%d", b.PurchasedQuantity(), b.AvailableQuantity())
			}
			if allocs := b.Allocations(); len(allocs) != 1 || allocs[0].OrderID != "o1" {
				t.Fatalf("allocations: %+v", allocs)
			}
			if p.VersionNumber != 5 {
				t.Fatalf("version: got=%d want=5", p.VersionNumber)
			}
		})
	}
}

func TestTrackingRepositoryRegistersSeen(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemoryStore()
	open := memoryOpener(store)
	seedProduct(t, open)

	inner, _, _ := open(t)
	seen := products.NewSeen()
	repo := products.NewTrackingRepository(inner, seen)

	if _, err := repo.Get(ctx, "NO-SUCH-SKU"); err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if seen.Len() != 0 {
		t.Fatalf("nil result was tracked")
	}
	first, _ := repo.Get(ctx, "RED-CHAIR")
	second, _ := repo.GetByBatchRef(ctx, "b-ship")
	if first != second {
		t.Fatalf("expected one identity")
	}
	added := allocation.NewProduct("BLUE-SOFA", nil, 0)
	if err := repo.Add(ctx, added); err != nil {
		t.Fatalf("add: %v", err)
	}
	all := seen.All()
	if len(all) != 2 || all[0] != first || all[1] != added {
		t.Fatalf("seen order: %+v", all)
	}
	if err := repo.Add(ctx, allocation.NewProduct("BLUE-SOFA", nil, 0)); !errors.Is(err, products.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if seen.Len() != 2 {
		t.Fatalf("failed add was tracked")
	}
}

func TestMemoryFlushDetectsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemoryStore()
	open := memoryOpener(store)
	seedProduct(t, open)

	first, commitFirst, _ := open(t)
	second, commitSecond, _ := open(t)
	p1, _ := first.Get(ctx, "RED-CHAIR")
	p2, _ := second.Get(ctx, "RED-CHAIR")

	p2.Allocate(allocation.OrderLine{OrderID: "o3", SKU: "RED-CHAIR", Qty: 1})
	if err := commitSecond(); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	p1.Allocate(allocation.OrderLine{OrderID: "o4", SKU: "RED-CHAIR", Qty: 1})
	if err := commitFirst(); !errors.Is(err, products.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if got := store.Product("RED-CHAIR"); got.Batch("b-stock").IsAllocated(allocation.OrderLine{OrderID: "o4"}) {
		t.Fatalf("conflicting write was applied")
	}
}

func TestMemoryFlushRejectsStaleCopyAfterBatchAdded(t *testing.T) {
	ctx := context.Background()
	store := products.NewMemoryStore()
	open := memoryOpener(store)
	seedProduct(t, open)

	allocating, commitAllocating, _ := open(t)
	adding, commitAdding, _ := open(t)
	stale, _ := allocating.Get(ctx, "RED-CHAIR")
	fresh, _ := adding.Get(ctx, "RED-CHAIR")

	if err := fresh.AddBatch(allocation.NewBatch("b-new", "RED-CHAIR", 5, nil)); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if err := commitAdding(); err != nil {
		t.Fatalf("add batch commit: %v", err)
	}
	stale.Allocate(allocation.OrderLine{OrderID: "o5", SKU: "RED-CHAIR", Qty: 1})
	if err := commitAllocating(); !errors.Is(err, products.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if got := store.Product("RED-CHAIR"); got.Batch("b-new") == nil {
		t.Fatalf("committed batch was overwritten by a stale copy")
	}
}

func TestGormFlushDetectsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.SQLite(t)
	open := gormOpener(gdb)
	seedProduct(t, open)

	tx := gdb.Begin()
	defer tx.Rollback()
	s := products.NewGormSession(tx, testutil.Logger(t))
	p, err := s.Get(ctx, "RED-CHAIR")
	if err != nil || p == nil {
		t.Fatalf("get: %v", err)
	}
	// another writer commits a newer version after the load
	if err := tx.Exec("UPDATE products SET version_number = version_number + 1 WHERE sku = ?", "RED-CHAIR").Error; err != nil {
		t.Fatalf("bump version: %v", err)
	}
	p.Allocate(allocation.OrderLine{OrderID: "o3", SKU: "RED-CHAIR", Qty: 1})
	if err := s.Flush(ctx); !errors.Is(err, products.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestGormRepositoryOnPostgres(t *testing.T) {
	gdb := testutil.Postgres(t)
	ctx := context.Background()
	tx := testutil.Tx(t, gdb)
	s := products.NewGormSession(tx, testutil.Logger(t))
	sku := "PG-" + time.Now().UTC().Format("150405.000000000")
	p := allocation.NewProduct(sku, nil, 0)
	if err := p.AddBatch(allocation.NewBatch(sku+"-b1", sku, 5, nil)); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	if err := s.Add(ctx, p); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	reread := products.NewGormSession(tx, testutil.Logger(t))
	got, err := reread.GetByBatchRef(ctx, sku+"-b1")
	if err != nil || got == nil || got.SKU != sku {
		t.Fatalf("reread: p=%v err=%v", got, err)
	}
}
