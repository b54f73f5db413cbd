package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
)

type fakeRetentionRepo struct {
	expired   map[enums.EventStatus][]uint64
	selectErr error
	deleteErr error

	lastCutoff time.Time
	deletes    [][]uint64
}

func (f *fakeRetentionRepo) SelectExpired(_ context.Context, status enums.EventStatus, before time.Time) ([]uint64, error) {
	f.lastCutoff = before
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.expired[status], nil
}

func (f *fakeRetentionRepo) DeleteByIDs(_ context.Context, ids []uint64) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, ids)
	return int64(len(ids)), nil
}

func newRetentionTestJob(t *testing.T, repo *fakeRetentionRepo, chunkSize int) *retentionJob {
	t.Helper()
	jobIface, err := NewRetentionJob(RetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Repository: repo,
		ChunkSize:  chunkSize,
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	job, ok := jobIface.(*retentionJob)
	if !ok {
		t.Fatalf("expected retentionJob, got %T", jobIface)
	}
	return job
}

func TestRetentionJobDeletesBothSettledStatuses(t *testing.T) {
	now := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	repo := &fakeRetentionRepo{
		expired: map[enums.EventStatus][]uint64{
			enums.StatusCancelled:   {1, 2},
			enums.StatusTransferred: {3},
		},
	}
	job := newRetentionTestJob(t, repo, 100)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expectedCutoff := now.UTC().Add(-defaultRetentionDays * 24 * time.Hour)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	total := 0
	for _, batch := range repo.deletes {
		total += len(batch)
	}
	if total != 3 {
		t.Fatalf("expected 3 deletions, got %d", total)
	}
}

func TestRetentionJobChunksDeletions(t *testing.T) {
	repo := &fakeRetentionRepo{
		expired: map[enums.EventStatus][]uint64{
			enums.StatusCancelled: {1, 2, 3, 4, 5},
		},
	}
	job := newRetentionTestJob(t, repo, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.deletes) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(repo.deletes))
	}
	if len(repo.deletes[0]) != 2 || len(repo.deletes[2]) != 1 {
		t.Fatalf("unexpected chunk sizes %v", repo.deletes)
	}
}

func TestRetentionJobPropagatesErrors(t *testing.T) {
	repo := &fakeRetentionRepo{selectErr: errors.New("db down")}
	job := newRetentionTestJob(t, repo, 10)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected select error")
	}

	repo = &fakeRetentionRepo{
		expired:   map[enums.EventStatus][]uint64{enums.StatusCancelled: {1}},
		deleteErr: errors.New("db down"),
	}
	job = newRetentionTestJob(t, repo, 10)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected delete error")
	}
}
