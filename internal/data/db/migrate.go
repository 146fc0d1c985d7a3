package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/data/repos/failures"
	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/data/repos/views"
)

func AutoMigrateAll(db *gorm.DB) error {
	var models []any
	// write model
	models = append(models, products.Models()...)
	// read model
	models = append(models, views.Models()...)
	// dispatch diagnostics
	models = append(models, failures.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
