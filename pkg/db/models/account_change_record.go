package models

import (
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
)

// AccountChangeRecord tracks one account-change notification per row. The
// publish job folds RECEIVED rows into the per-subject change notification
// and stamps them PUBLISHED afterwards.
type AccountChangeRecord struct {
	ID          uint64                    `gorm:"column:id;primaryKey;autoIncrement"`
	ActorID     string                    `gorm:"column:actor_id;not null;index"`
	Status      enums.AccountChangeStatus `gorm:"column:status;not null;index"`
	ReceivedAt  time.Time                 `gorm:"column:received_at;not null"`
	PublishedAt *time.Time                `gorm:"column:published_at"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (AccountChangeRecord) TableName() string { return "account_changes" }
