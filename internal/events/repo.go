package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bamelis/regrelay/pkg/db"
	"github.com/bamelis/regrelay/pkg/db/models"
	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxSubjectIdentifiers caps how many identifiers one record may carry.
// Anything beyond the cap is dropped with a warning before persisting.
const maxSubjectIdentifiers = 20

// ErrDuplicateEvent is returned when a record with the same (event id,
// category) pair is already stored. Intake treats it as an idempotent replay.
var ErrDuplicateEvent = errors.New("event already stored")

// Repository owns all write access to the event and account-change tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	StoreEvent(ctx context.Context, event types.LifeEvent) (*models.EventRecord, error)
	ExistsByEventIDAndCategory(ctx context.Context, eventID string, category enums.EventCategory) (bool, error)
	FindByID(ctx context.Context, id uint64) (*models.EventRecord, error)
	SelectTransferCandidates(ctx context.Context, olderThan time.Time, limit int) ([]uint64, error)
	SelectPayloadsByIDs(ctx context.Context, ids []uint64) ([]string, error)
	MarkStatus(ctx context.Context, id uint64, status enums.EventStatus) error
	MarkStatusBatch(ctx context.Context, ids []uint64, status enums.EventStatus) error
	SelectExpired(ctx context.Context, status enums.EventStatus, before time.Time) ([]uint64, error)
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
	SelectSubjectsWithRecentPersonChanges(ctx context.Context) (map[string][]string, error)
	MarkPersonChangesPublished(ctx context.Context, actorID string) error
	StoreAccountChange(ctx context.Context, actorID string) (*models.AccountChangeRecord, error)
	SelectSubjectsWithRecentAccountChanges(ctx context.Context, receivedBefore, publishedBefore time.Time) (map[string][]string, error)
	MarkAccountChangesPublished(ctx context.Context, actorID string, now time.Time) error
}

type repositoryImpl struct {
	db   *gorm.DB
	logg *logger.Logger
	now  func() time.Time
}

// NewRepository returns an event repository bound to the provided database.
func NewRepository(conn *gorm.DB, logg *logger.Logger) Repository {
	return &repositoryImpl{db: conn, logg: logg, now: time.Now}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx, logg: r.logg, now: r.now}
}

// StoreEvent persists one life event and reconciles its predecessor chain in
// the same transaction. A referenced predecessor still in RECEIVED is locked
// and cancelled; the new record starts RECEIVED unless it closes a chain with
// a non-correction, in which case it is stored already CANCELLED. A missing
// predecessor is not an error.
func (r *repositoryImpl) StoreEvent(ctx context.Context, event types.LifeEvent) (*models.EventRecord, error) {
	idents := event.SubjectIdentifiers
	if len(idents) > maxSubjectIdentifiers {
		if r.logg != nil {
			warnCtx := r.logg.WithEventID(ctx, event.EventID)
			warnCtx = r.logg.WithField(warnCtx, "identifier_count", len(idents))
			r.logg.Warn(warnCtx, "truncating subject identifier set")
		}
		idents = idents[:maxSubjectIdentifiers]
	}

	payload, err := event.ToJSON()
	if err != nil {
		return nil, err
	}

	now := r.now()
	record := &models.EventRecord{
		EventID:         event.EventID,
		Category:        event.Category,
		ChangeKind:      event.ChangeKind,
		ActorID:         event.CurrentActorID(),
		Payload:         json.RawMessage(payload),
		MasterSource:    event.MasterSource,
		SourceOffset:    event.SourceOffset,
		Classification:  event.Classification,
		Status:          enums.StatusReceived,
		StatusChangedAt: now,
	}
	record.SetSubjectIdentifiers(idents)
	if event.PreviousEventID != "" {
		prev := event.PreviousEventID
		record.PreviousEventID = &prev
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if event.PreviousEventID != "" {
			predecessor, perr := r.lockPredecessor(tx, event.PreviousEventID)
			if perr != nil {
				return perr
			}
			if predecessor != nil {
				cancel := tx.Model(&models.EventRecord{}).
					Where("id = ?", predecessor.ID).
					UpdateColumns(map[string]any{
						"status":            enums.StatusCancelled,
						"status_changed_at": now,
					})
				if cancel.Error != nil {
					return cancel.Error
				}
				if event.ChangeKind != enums.ChangeCorrected {
					record.Status = enums.StatusCancelled
				}
			}
		}
		return tx.Create(record).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("event %s/%s: %w", event.EventID, event.Category, ErrDuplicateEvent)
		}
		return nil, fmt.Errorf("store event %s: %w", event.EventID, err)
	}
	return record, nil
}

func (r *repositoryImpl) lockPredecessor(tx *gorm.DB, previousEventID string) (*models.EventRecord, error) {
	query := tx.Model(&models.EventRecord{}).
		Where("event_id = ? AND status = ?", previousEventID, enums.StatusReceived)
	// sqlite (tests) has no row locks
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var predecessor models.EventRecord
	if err := query.First(&predecessor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &predecessor, nil
}

func (r *repositoryImpl) ExistsByEventIDAndCategory(ctx context.Context, eventID string, category enums.EventCategory) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("event_id = ? AND category = ?", eventID, category).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uint64) (*models.EventRecord, error) {
	var record models.EventRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// SelectTransferCandidates returns ids of RECEIVED records whose status has
// been stable since before olderThan, capped at limit. No ordering contract.
func (r *repositoryImpl) SelectTransferCandidates(ctx context.Context, olderThan time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("status = ? AND status_changed_at < ?", enums.StatusReceived, olderThan).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SelectPayloadsByIDs returns the archived event payloads for the given ids,
// in id order.
func (r *repositoryImpl) SelectPayloadsByIDs(ctx context.Context, ids []uint64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.EventRecord
	err := r.db.WithContext(ctx).
		Select("id", "payload").
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	payloads := make([]string, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, string(row.Payload))
	}
	return payloads, nil
}

func (r *repositoryImpl) MarkStatus(ctx context.Context, id uint64, status enums.EventStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":            status,
			"status_changed_at": r.now(),
		}).Error
}

func (r *repositoryImpl) MarkStatusBatch(ctx context.Context, ids []uint64, status enums.EventStatus) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("id IN ?", ids).
		UpdateColumns(map[string]any{
			"status":            status,
			"status_changed_at": r.now(),
		}).Error
}

func (r *repositoryImpl) SelectExpired(ctx context.Context, status enums.EventStatus, before time.Time) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("status = ? AND status_changed_at < ?", status, before).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repositoryImpl) DeleteByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.EventRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// SelectSubjectsWithRecentPersonChanges maps actor id to the union of subject
// identifiers over that actor's un-published (RECEIVED) records. Records
// without an actor id cannot be addressed downstream and are skipped.
func (r *repositoryImpl) SelectSubjectsWithRecentPersonChanges(ctx context.Context) (map[string][]string, error) {
	var rows []models.EventRecord
	err := r.db.WithContext(ctx).
		Select("actor_id", "subject_idents").
		Where("status = ? AND actor_id <> ''", enums.StatusReceived).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	subjects := make(map[string][]string, len(rows))
	for _, row := range rows {
		subjects[row.ActorID] = unionIdentifiers(subjects[row.ActorID], row.SubjectIdentifiers())
	}
	return subjects, nil
}

func (r *repositoryImpl) MarkPersonChangesPublished(ctx context.Context, actorID string) error {
	return r.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("actor_id = ? AND status = ?", actorID, enums.StatusReceived).
		UpdateColumns(map[string]any{
			"status":            enums.StatusPublished,
			"status_changed_at": r.now(),
		}).Error
}

func (r *repositoryImpl) StoreAccountChange(ctx context.Context, actorID string) (*models.AccountChangeRecord, error) {
	record := &models.AccountChangeRecord{
		ActorID:    actorID,
		Status:     enums.AccountChangeReceived,
		ReceivedAt: r.now(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("store account change for %s: %w", actorID, err)
	}
	return record, nil
}

// SelectSubjectsWithRecentAccountChanges returns actors with a RECEIVED
// account change older than receivedBefore, excluding actors already covered
// by a PUBLISHED change newer than publishedBefore. Identifier sets are
// resolved from the actor's stored event records, falling back to the actor
// id itself when none are known.
func (r *repositoryImpl) SelectSubjectsWithRecentAccountChanges(ctx context.Context, receivedBefore, publishedBefore time.Time) (map[string][]string, error) {
	var actorIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.AccountChangeRecord{}).
		Distinct("actor_id").
		Where("status = ? AND received_at < ?", enums.AccountChangeReceived, receivedBefore).
		Where("actor_id NOT IN (?)", r.db.
			Model(&models.AccountChangeRecord{}).
			Select("actor_id").
			Where("status = ? AND published_at > ?", enums.AccountChangePublished, publishedBefore)).
		Pluck("actor_id", &actorIDs).Error
	if err != nil {
		return nil, err
	}
	if len(actorIDs) == 0 {
		return map[string][]string{}, nil
	}

	var rows []models.EventRecord
	err = r.db.WithContext(ctx).
		Select("actor_id", "subject_idents").
		Where("actor_id IN ?", actorIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	subjects := make(map[string][]string, len(actorIDs))
	for _, actorID := range actorIDs {
		subjects[actorID] = []string{actorID}
	}
	for _, row := range rows {
		subjects[row.ActorID] = unionIdentifiers(subjects[row.ActorID], row.SubjectIdentifiers())
	}
	return subjects, nil
}

func (r *repositoryImpl) MarkAccountChangesPublished(ctx context.Context, actorID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.AccountChangeRecord{}).
		Where("actor_id = ? AND status = ?", actorID, enums.AccountChangeReceived).
		UpdateColumns(map[string]any{
			"status":       enums.AccountChangePublished,
			"published_at": now,
		}).Error
}

func unionIdentifiers(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, set := range [][]string{existing, incoming} {
		for _, ident := range set {
			if ident == "" {
				continue
			}
			if _, ok := seen[ident]; ok {
				continue
			}
			seen[ident] = struct{}{}
			merged = append(merged, ident)
		}
	}
	return merged
}
