package uow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/data/repos/products"
	"github.com/yungbote/allocation/internal/domain/allocation"
)

func TestMapError(t *testing.T) {
	domainErr := allocation.InvalidSKU("allocate", "NOPE")
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"version conflict", fmt.Errorf("flush: %w", products.ErrVersionConflict), CodeConflict},
		{"not found", gorm.ErrRecordNotFound, CodeNotFound},
		{"canceled", context.Canceled, CodeRetryable},
		{"unique violation", &pgconn.PgError{Code: "23505"}, CodeConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, CodeRetryable},
		{"sqlite unique", errors.New("UNIQUE constraint failed: batches.reference"), CodeConflict},
		{"sqlite locked", errors.New("database is locked"), CodeRetryable},
		{"other", errors.New("disk on fire"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError("op", tc.err)
			if CodeOf(got) != tc.want {
				t.Fatalf("code: got=%q want=%q (%v)", CodeOf(got), tc.want, got)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("cause lost: %v", got)
			}
		})
	}

	if MapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if got := MapError("op", domainErr); got != domainErr {
		t.Fatalf("domain errors pass through: %v", got)
	}
	mapped := MapError("op", gorm.ErrRecordNotFound)
	if MapError("again", mapped) != mapped {
		t.Fatalf("mapped errors pass through")
	}
}
