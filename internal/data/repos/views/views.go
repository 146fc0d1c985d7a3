// Package views maintains the denormalised allocations read model.
package views

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/pkg/dbctx"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

// Allocation is one row of the read model.
type Allocation struct {
	SKU      string `json:"sku"`
	BatchRef string `json:"batchref"`
}

// Writer changes the read model inside a unit of work.
type Writer interface {
	Add(ctx context.Context, orderID, sku, batchRef string) error
	Remove(ctx context.Context, orderID, sku string) error
}

// Reader answers queries without a unit of work.
type Reader interface {
	ForOrder(ctx context.Context, orderID string) ([]Allocation, error)
}

type allocationRow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	OrderID   string    `gorm:"column:order_id;not null;index:idx_allocations_view_order_sku"`
	SKU       string    `gorm:"column:sku;not null;index:idx_allocations_view_order_sku"`
	BatchRef  string    `gorm:"column:batch_ref;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (allocationRow) TableName() string { return "allocations_view" }

func Models() []any { return []any{&allocationRow{}} }

type gormRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormWriter writes through tx.
func NewGormWriter(tx *gorm.DB, baseLog *logger.Logger) Writer {
	return newGormRepo(tx, baseLog)
}

// NewGormReader reads from db outside of any transaction.
func NewGormReader(db *gorm.DB, baseLog *logger.Logger) Reader {
	return newGormRepo(db, baseLog)
}

func newGormRepo(db *gorm.DB, baseLog *logger.Logger) *gormRepo {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &gormRepo{db: db, log: baseLog.With("repo", "AllocationsViewRepo")}
}

func (r *gormRepo) Add(ctx context.Context, orderID, sku, batchRef string) error {
	row := &allocationRow{OrderID: orderID, SKU: sku, BatchRef: batchRef}
	return dbctx.Context{Ctx: ctx}.DB(r.db).Create(row).Error
}

func (r *gormRepo) Remove(ctx context.Context, orderID, sku string) error {
	return dbctx.Context{Ctx: ctx}.DB(r.db).
		Where("order_id = ? AND sku = ?", orderID, sku).
		Delete(&allocationRow{}).Error
}

func (r *gormRepo) ForOrder(ctx context.Context, orderID string) ([]Allocation, error) {
	var rows []allocationRow
	db := dbctx.Context{Ctx: ctx}.DB(r.db)
	if err := db.
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Allocation, 0, len(rows))
	for _, row := range rows {
		out = append(out, Allocation{SKU: row.SKU, BatchRef: row.BatchRef})
	}
	return out, nil
}

type memoryRow struct {
	seq      int
	orderID  string
	sku      string
	batchRef string
}

// MemoryStore is the committed in-memory read model.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  int
	rows []memoryRow
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) ForOrder(ctx context.Context, orderID string) ([]Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]memoryRow, 0)
	for _, row := range s.rows {
		if row.orderID == orderID {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]Allocation, 0, len(matched))
	for _, row := range matched {
		out = append(out, Allocation{SKU: row.sku, BatchRef: row.batchRef})
	}
	return out, nil
}

type memoryOp struct {
	remove   bool
	orderID  string
	sku      string
	batchRef string
}

// MemoryWriter stages changes until Flush.
type MemoryWriter struct {
	store *MemoryStore
	ops   []memoryOp
}

func NewMemoryWriter(store *MemoryStore) *MemoryWriter {
	return &MemoryWriter{store: store}
}

func (w *MemoryWriter) Add(ctx context.Context, orderID, sku, batchRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.ops = append(w.ops, memoryOp{orderID: orderID, sku: sku, batchRef: batchRef})
	return nil
}

func (w *MemoryWriter) Remove(ctx context.Context, orderID, sku string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.ops = append(w.ops, memoryOp{remove: true, orderID: orderID, sku: sku})
	return nil
}

// Flush applies staged changes in order.
func (w *MemoryWriter) Flush() {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	for _, op := range w.ops {
		if op.remove {
			kept := w.store.rows[:0]
			for _, row := range w.store.rows {
				if row.orderID == op.orderID && row.sku == op.sku {
					continue
				}
				kept = append(kept, row)
			}
			w.store.rows = kept
			continue
		}
		w.store.seq++
		w.store.rows = append(w.store.rows, memoryRow{
			seq:      w.store.seq,
			orderID:  op.orderID,
			sku:      op.sku,
			batchRef: op.batchRef,
		})
	}
	w.ops = nil
}
