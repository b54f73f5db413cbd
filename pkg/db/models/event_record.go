package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
)

const identSeparator = ", "

// EventRecord is the durable projection of one life event plus its delivery
// status. The pair (event_id, category) is unique among stored records; a
// second insert with the same pair trips the constraint before any side
// effect, which is what makes intake idempotent.
type EventRecord struct {
	ID              uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	EventID         string               `gorm:"column:event_id;not null;uniqueIndex:ux_event_records_event_category"`
	Category        enums.EventCategory  `gorm:"column:category;not null;uniqueIndex:ux_event_records_event_category"`
	ChangeKind      enums.ChangeKind     `gorm:"column:change_kind;not null"`
	SubjectIdents   string               `gorm:"column:subject_idents"`
	ActorID         string               `gorm:"column:actor_id;index"`
	PreviousEventID *string              `gorm:"column:previous_event_id;index"`
	Payload         json.RawMessage      `gorm:"column:payload"`
	MasterSource    string               `gorm:"column:master_source"`
	SourceOffset    int64                `gorm:"column:source_offset"`
	Classification  enums.Classification `gorm:"column:classification"`
	Status          enums.EventStatus    `gorm:"column:status;not null;index"`
	StatusChangedAt time.Time            `gorm:"column:status_changed_at;not null;index"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (EventRecord) TableName() string { return "event_records" }

// SetSubjectIdentifiers stores the identifier set in its joined column form.
func (r *EventRecord) SetSubjectIdentifiers(idents []string) {
	r.SubjectIdents = strings.Join(idents, identSeparator)
}

// SubjectIdentifiers returns the stored identifier set.
func (r *EventRecord) SubjectIdentifiers() []string {
	if r.SubjectIdents == "" {
		return nil
	}
	return strings.Split(r.SubjectIdents, identSeparator)
}
