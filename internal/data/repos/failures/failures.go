// Package failures persists dispatch failures recorded by the message bus.
package failures

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/allocation/internal/messagebus"
	"github.com/yungbote/allocation/internal/pkg/dbctx"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

type Failure struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MessageType     string         `gorm:"column:message_type;not null;index" json:"message_type"`
	MessageIdentity string         `gorm:"column:message_identity;not null" json:"message_identity"`
	Handler         string         `gorm:"column:handler;not null;index" json:"handler"`
	Kind            string         `gorm:"column:kind;not null" json:"kind"`
	Fatal           bool           `gorm:"column:fatal;not null;default:false" json:"fatal"`
	Error           string         `gorm:"column:error;not null" json:"error"`
	Payload         datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	OccurredAt      time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
}

func (Failure) TableName() string { return "dispatch_failures" }

func Models() []any { return []any{&Failure{}} }

// Store is a messagebus.FailureSink backed by the dispatch_failures table.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ messagebus.FailureSink = (*Store)(nil)

func NewStore(db *gorm.DB, baseLog *logger.Logger) *Store {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Store{db: db, log: baseLog.With("repo", "DispatchFailureRepo")}
}

func (s *Store) RecordFailure(ctx context.Context, rec messagebus.FailureRecord) error {
	row := &Failure{
		ID:              rec.ID,
		MessageType:     rec.MessageType,
		MessageIdentity: rec.MessageIdentity,
		Handler:         rec.Handler,
		Kind:            rec.Kind,
		Fatal:           rec.Fatal,
		OccurredAt:      rec.OccurredAt,
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	if rec.Err != nil {
		row.Error = rec.Err.Error()
	}
	if len(rec.Payload) > 0 {
		row.Payload = datatypes.JSON(rec.Payload)
	}
	// the bus calls this after the handler's transaction is gone; write on the base handle
	return dbctx.Context{Ctx: ctx}.DB(s.db).Create(row).Error
}

// Recent lists the newest failures first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Failure
	err := dbctx.Context{Ctx: ctx}.DB(s.db).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
