package products

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/allocation/internal/domain/allocation"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

type productRecord struct {
	SKU           string    `gorm:"column:sku;primaryKey"`
	VersionNumber int       `gorm:"column:version_number;not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (productRecord) TableName() string { return "products" }

type batchRecord struct {
	ID                uint       `gorm:"primaryKey;autoIncrement"`
	Reference         string     `gorm:"column:reference;not null;uniqueIndex"`
	SKU               string     `gorm:"column:sku;not null;index"`
	PurchasedQuantity int        `gorm:"column:purchased_quantity;not null"`
	ETA               *time.Time `gorm:"column:eta"`
}

func (batchRecord) TableName() string { return "batches" }

type allocationRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	BatchReference string `gorm:"column:batch_reference;not null;index"`
	OrderID        string `gorm:"column:order_id;not null;index"`
	SKU            string `gorm:"column:sku;not null"`
	Qty            int    `gorm:"column:qty;not null"`
	Position       int    `gorm:"column:position;not null"`
}

func (allocationRecord) TableName() string { return "allocations" }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&productRecord{}, &batchRecord{}, &allocationRecord{}}
}

type gormSession struct {
	tx  *gorm.DB
	log *logger.Logger
	ids identityMap
}

// NewGormSession binds a repository to an open GORM transaction.
func NewGormSession(tx *gorm.DB, baseLog *logger.Logger) Session {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &gormSession{
		tx:  tx,
		log: baseLog.With("repo", "ProductRepo"),
		ids: newIdentityMap(),
	}
}

func (s *gormSession) Add(ctx context.Context, p *allocation.Product) error {
	if p == nil {
		return fmt.Errorf("product required")
	}
	if _, ok := s.ids.bySKU[p.SKU]; ok {
		return fmt.Errorf("add %s: %w", p.SKU, ErrAlreadyExists)
	}
	s.ids.track(p, true)
	return nil
}

func (s *gormSession) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	if p, ok := s.ids.bySKU[sku]; ok {
		return p, nil
	}
	var rec productRecord
	if err := s.tx.WithContext(ctx).Where("sku = ?", sku).Limit(1).Find(&rec).Error; err != nil {
		return nil, err
	}
	if rec.SKU == "" {
		return nil, nil
	}
	var batches []batchRecord
	if err := s.tx.WithContext(ctx).
		Where("sku = ?", sku).
		Order("id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(batches))
	for _, b := range batches {
		refs = append(refs, b.Reference)
	}
	lines := map[string][]allocation.OrderLine{}
	if len(refs) > 0 {
		var allocs []allocationRecord
		if err := s.tx.WithContext(ctx).
			Where("batch_reference IN ?", refs).
			Order("position ASC, id ASC").
			Find(&allocs).Error; err != nil {
			return nil, err
		}
		for _, a := range allocs {
			lines[a.BatchReference] = append(lines[a.BatchReference], allocation.OrderLine{
				OrderID: a.OrderID,
				SKU:     a.SKU,
				Qty:     a.Qty,
			})
		}
	}
	restored := make([]*allocation.Batch, 0, len(batches))
	for _, b := range batches {
		restored = append(restored, allocation.RestoreBatch(b.Reference, b.SKU, b.PurchasedQuantity, b.ETA, lines[b.Reference]))
	}
	p := allocation.NewProduct(rec.SKU, restored, rec.VersionNumber)
	s.ids.track(p, false)
	return p, nil
}

func (s *gormSession) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	if p := s.ids.byBatchRef(ref); p != nil {
		return p, nil
	}
	var b batchRecord
	if err := s.tx.WithContext(ctx).Where("reference = ?", ref).Limit(1).Find(&b).Error; err != nil {
		return nil, err
	}
	if b.Reference == "" {
		return nil, nil
	}
	return s.Get(ctx, b.SKU)
}

// Flush writes every tracked product. Existing products are guarded by their loaded
// version number; a concurrent writer surfaces as ErrVersionConflict.
func (s *gormSession) Flush(ctx context.Context) error {
	db := s.tx.WithContext(ctx)
	for _, p := range s.ids.order {
		if s.ids.added[p.SKU] {
			if err := db.Create(&productRecord{SKU: p.SKU, VersionNumber: p.VersionNumber}).Error; err != nil {
				return err
			}
		} else {
			res := db.Model(&productRecord{}).
				Where("sku = ? AND version_number = ?", p.SKU, s.ids.versions[p.SKU]).
				Updates(map[string]interface{}{
					"version_number": p.VersionNumber,
					"updated_at":     time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("flush %s at version %d: %w", p.SKU, s.ids.versions[p.SKU], ErrVersionConflict)
			}
		}
		if err := s.writeBatches(db, p); err != nil {
			return err
		}
		s.log.Debug("product flushed", "sku", p.SKU, "version", p.VersionNumber, "batches", len(p.Batches))
	}
	return nil
}

func (s *gormSession) writeBatches(db *gorm.DB, p *allocation.Product) error {
	if len(p.Batches) == 0 {
		return nil
	}
	refs := make([]string, 0, len(p.Batches))
	var allocs []allocationRecord
	for _, b := range p.Batches {
		rec := batchRecord{
			Reference:         b.Reference,
			SKU:               b.SKU,
			PurchasedQuantity: b.PurchasedQuantity(),
			ETA:               b.ETA,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoUpdates: clause.AssignmentColumns([]string{"purchased_quantity", "eta"}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}
		refs = append(refs, b.Reference)
		for i, line := range b.Allocations() {
			allocs = append(allocs, allocationRecord{
				BatchReference: b.Reference,
				OrderID:        line.OrderID,
				SKU:            line.SKU,
				Qty:            line.Qty,
				Position:       i,
			})
		}
	}
	if err := db.Where("batch_reference IN ?", refs).Delete(&allocationRecord{}).Error; err != nil {
		return err
	}
	if len(allocs) == 0 {
		return nil
	}
	return db.Create(&allocs).Error
}
