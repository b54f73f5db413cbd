package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bamelis/regrelay/pkg/db/models"
	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:events_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.EventRecord{}, &models.AccountChangeRecord{}))
	return conn
}

func newTestRepo(t *testing.T, now func() time.Time) (Repository, *gorm.DB) {
	t.Helper()
	conn := newTestDB(t)
	repo := &repositoryImpl{db: conn, now: now}
	if repo.now == nil {
		repo.now = time.Now
	}
	return repo, conn
}

func deathEvent(eventID, previousEventID string, kind enums.ChangeKind) types.LifeEvent {
	date := types.NewDate(2026, time.January, 5)
	return types.LifeEvent{
		EventID:            eventID,
		Category:           enums.CategoryDeath,
		ChangeKind:         kind,
		SubjectIdentifiers: []string{"1234567890123", "12345678901"},
		PreviousEventID:    previousEventID,
		CreatedAt:          time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC),
		MasterSource:       "REGISTRY",
		DeathDate:          &date,
	}
}

func loadRecord(t *testing.T, conn *gorm.DB, eventID string) models.EventRecord {
	t.Helper()
	var record models.EventRecord
	require.NoError(t, conn.First(&record, "event_id = ?", eventID).Error)
	return record
}

func TestStoreEventDuplicateTripsConstraint(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.StoreEvent(ctx, deathEvent("evt-1", "", enums.ChangeCreated))
	require.NoError(t, err)

	_, err = repo.StoreEvent(ctx, deathEvent("evt-1", "", enums.ChangeCreated))
	require.ErrorIs(t, err, ErrDuplicateEvent)

	// Same event id under a different category is a distinct record.
	birth := deathEvent("evt-1", "", enums.ChangeCreated)
	birth.Category = enums.CategoryBirth
	_, err = repo.StoreEvent(ctx, birth)
	require.NoError(t, err)
}

func TestStoreEventAnnulmentCancelsChain(t *testing.T) {
	t.Parallel()

	repo, conn := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.StoreEvent(ctx, deathEvent("evt-1", "", enums.ChangeCreated))
	require.NoError(t, err)
	stored, err := repo.StoreEvent(ctx, deathEvent("evt-2", "evt-1", enums.ChangeAnnulled))
	require.NoError(t, err)

	assert.Equal(t, enums.StatusCancelled, loadRecord(t, conn, "evt-1").Status)
	assert.Equal(t, enums.StatusCancelled, stored.Status)
}

func TestStoreEventCorrectionSupersedesPredecessor(t *testing.T) {
	t.Parallel()

	repo, conn := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.StoreEvent(ctx, deathEvent("evt-1", "", enums.ChangeCreated))
	require.NoError(t, err)
	stored, err := repo.StoreEvent(ctx, deathEvent("evt-2", "evt-1", enums.ChangeCorrected))
	require.NoError(t, err)

	assert.Equal(t, enums.StatusCancelled, loadRecord(t, conn, "evt-1").Status)
	assert.Equal(t, enums.StatusReceived, stored.Status)
}

func TestStoreEventDanglingPredecessorIsNotAnError(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	stored, err := repo.StoreEvent(ctx, deathEvent("evt-2", "never-seen", enums.ChangeCorrected))
	require.NoError(t, err)
	assert.Equal(t, enums.StatusReceived, stored.Status)
}

func TestStoreEventAlreadySettledPredecessorIsLeftAlone(t *testing.T) {
	t.Parallel()

	repo, conn := newTestRepo(t, nil)
	ctx := context.Background()

	first, err := repo.StoreEvent(ctx, deathEvent("evt-1", "", enums.ChangeCreated))
	require.NoError(t, err)
	require.NoError(t, repo.MarkStatus(ctx, first.ID, enums.StatusTransferred))

	stored, err := repo.StoreEvent(ctx, deathEvent("evt-2", "evt-1", enums.ChangeAnnulled))
	require.NoError(t, err)

	// Only RECEIVED predecessors participate in reconciliation.
	assert.Equal(t, enums.StatusTransferred, loadRecord(t, conn, "evt-1").Status)
	assert.Equal(t, enums.StatusReceived, stored.Status)
}

func TestStoreEventTruncatesOversizedIdentifierSet(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	event := deathEvent("evt-1", "", enums.ChangeCreated)
	event.SubjectIdentifiers = nil
	for i := 0; i < maxSubjectIdentifiers+5; i++ {
		event.SubjectIdentifiers = append(event.SubjectIdentifiers, uuid.NewString())
	}

	stored, err := repo.StoreEvent(ctx, event)
	require.NoError(t, err)
	assert.Len(t, stored.SubjectIdentifiers(), maxSubjectIdentifiers)
}

func TestSelectTransferCandidatesHonorsDebounceAndLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	repo, conn := newTestRepo(t, func() time.Time { return now })
	ctx := context.Background()

	seed := []models.EventRecord{
		{EventID: "old-1", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusReceived, StatusChangedAt: now.Add(-3 * time.Hour)},
		{EventID: "old-2", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusReceived, StatusChangedAt: now.Add(-4 * time.Hour)},
		{EventID: "fresh", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusReceived, StatusChangedAt: now.Add(-10 * time.Minute)},
		{EventID: "failed", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusTransferFailed, StatusChangedAt: now.Add(-5 * time.Hour)},
		{EventID: "cancelled", Category: enums.CategoryDeath, ChangeKind: enums.ChangeAnnulled, Status: enums.StatusCancelled, StatusChangedAt: now.Add(-5 * time.Hour)},
	}
	for i := range seed {
		require.NoError(t, conn.Create(&seed[i]).Error)
	}

	ids, err := repo.SelectTransferCandidates(ctx, now.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	capped, err := repo.SelectTransferCandidates(ctx, now.Add(-2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	require.NoError(t, repo.MarkStatusBatch(ctx, ids, enums.StatusInProgress))
	remaining, err := repo.SelectTransferCandidates(ctx, now.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "marked rows must drop out of the candidate set")
}

func TestSelectExpiredAndDeleteByIDs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	repo, conn := newTestRepo(t, func() time.Time { return now })
	ctx := context.Background()
	cutoff := now.AddDate(0, 0, -7)

	seed := []models.EventRecord{
		{EventID: "gone-1", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusTransferred, StatusChangedAt: cutoff.Add(-time.Hour)},
		{EventID: "gone-2", Category: enums.CategoryBirth, ChangeKind: enums.ChangeAnnulled, Status: enums.StatusCancelled, StatusChangedAt: cutoff.Add(-2 * time.Hour)},
		{EventID: "kept-recent", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusTransferred, StatusChangedAt: cutoff.Add(time.Hour)},
		{EventID: "kept-live", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, Status: enums.StatusReceived, StatusChangedAt: cutoff.Add(-time.Hour)},
	}
	for i := range seed {
		require.NoError(t, conn.Create(&seed[i]).Error)
	}

	var expired []uint64
	for _, status := range []enums.EventStatus{enums.StatusTransferred, enums.StatusCancelled} {
		ids, err := repo.SelectExpired(ctx, status, cutoff)
		require.NoError(t, err)
		expired = append(expired, ids...)
	}
	require.Len(t, expired, 2)

	deleted, err := repo.DeleteByIDs(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.EventRecord{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}

func TestSelectSubjectsWithRecentPersonChangesUnionsIdentifiers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	repo, conn := newTestRepo(t, func() time.Time { return now })
	ctx := context.Background()

	actorA := "1234567890123"
	actorB := "9876543210987"

	seed := []models.EventRecord{
		{EventID: "a-1", Category: enums.CategoryDeath, ChangeKind: enums.ChangeCreated, ActorID: actorA, SubjectIdents: actorA + ", 12345678901", Status: enums.StatusReceived, StatusChangedAt: now},
		{EventID: "a-2", Category: enums.CategoryName, ChangeKind: enums.ChangeCreated, ActorID: actorA, SubjectIdents: actorA + ", 11111111111", Status: enums.StatusReceived, StatusChangedAt: now},
		{EventID: "b-1", Category: enums.CategoryBirth, ChangeKind: enums.ChangeCreated, ActorID: actorB, SubjectIdents: actorB, Status: enums.StatusReceived, StatusChangedAt: now},
		{EventID: "b-2", Category: enums.CategoryBirth, ChangeKind: enums.ChangeAnnulled, ActorID: actorB, SubjectIdents: actorB, Status: enums.StatusCancelled, StatusChangedAt: now},
		{EventID: "no-actor", Category: enums.CategoryBirth, ChangeKind: enums.ChangeCreated, SubjectIdents: "22222222222", Status: enums.StatusReceived, StatusChangedAt: now},
	}
	for i := range seed {
		require.NoError(t, conn.Create(&seed[i]).Error)
	}

	subjects, err := repo.SelectSubjectsWithRecentPersonChanges(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Len(t, subjects[actorA], 3, "identifiers union across the actor's events")
	assert.Equal(t, []string{actorB}, subjects[actorB])

	require.NoError(t, repo.MarkPersonChangesPublished(ctx, actorA))
	subjects, err = repo.SelectSubjectsWithRecentPersonChanges(ctx)
	require.NoError(t, err)
	assert.NotContains(t, subjects, actorA)
	assert.Equal(t, enums.StatusPublished, loadRecord(t, conn, "a-1").Status)
}

func TestAccountChangeLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	repo, conn := newTestRepo(t, func() time.Time { return now.Add(-time.Hour) })
	ctx := context.Background()

	actorA := "1234567890123"
	actorB := "9876543210987"
	actorC := "5555555555555"

	for _, actorID := range []string{actorA, actorB, actorC} {
		_, err := repo.StoreAccountChange(ctx, actorID)
		require.NoError(t, err)
	}

	// Actor B already got a notification moments ago.
	published := now.Add(-time.Minute)
	require.NoError(t, conn.Create(&models.AccountChangeRecord{
		ActorID:     actorB,
		Status:      enums.AccountChangePublished,
		ReceivedAt:  now.Add(-2 * time.Hour),
		PublishedAt: &published,
	}).Error)

	// Actor A has stored events carrying extra identifiers.
	require.NoError(t, conn.Create(&models.EventRecord{
		EventID: "a-1", Category: enums.CategoryName, ChangeKind: enums.ChangeCreated,
		ActorID: actorA, SubjectIdents: actorA + ", 12345678901",
		Status: enums.StatusTransferred, StatusChangedAt: now,
	}).Error)

	subjects, err := repo.SelectSubjectsWithRecentAccountChanges(ctx, now.Add(-5*time.Minute), now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Len(t, subjects[actorA], 2, "identifiers resolved from stored events")
	assert.Equal(t, []string{actorC}, subjects[actorC], "falls back to the actor id")
	assert.NotContains(t, subjects, actorB, "recently notified actor is excluded")

	require.NoError(t, repo.MarkAccountChangesPublished(ctx, actorA, now))
	subjects, err = repo.SelectSubjectsWithRecentAccountChanges(ctx, now.Add(-5*time.Minute), now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.NotContains(t, subjects, actorA)
}
