package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
)

const (
	defaultRetentionDays = 7
	defaultDeleteChunk   = 65000
)

type retentionRepo interface {
	SelectExpired(ctx context.Context, status enums.EventStatus, before time.Time) ([]uint64, error)
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
}

type RetentionJobParams struct {
	Logger        *logger.Logger
	Repository    retentionRepo
	RetentionDays int
	ChunkSize     int
}

// NewRetentionJob builds the job that deletes settled records past the
// retention window.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("event repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultDeleteChunk
	}
	return &retentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		chunkSize: chunkSize,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	repo      retentionRepo
	retention int
	chunkSize int
	now       func() time.Time
}

// Statuses that retention may remove. Live rows (RECEIVED, IN_PROGRESS) and
// failed transfers are kept for inspection.
var expirableStatuses = []enums.EventStatus{
	enums.StatusCancelled,
	enums.StatusTransferred,
}

func (j *retentionJob) Name() string { return "delete-expired-events" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)

	var deleted int64
	for _, status := range expirableStatuses {
		ids, err := j.repo.SelectExpired(ctx, status, cutoff)
		if err != nil {
			return fmt.Errorf("select expired %s: %w", status, err)
		}
		rows, err := j.deleteChunked(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete expired %s: %w", status, err)
		}
		deleted += rows
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "retention sweep complete")
	return nil
}

func (j *retentionJob) deleteChunked(ctx context.Context, ids []uint64) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += j.chunkSize {
		end := start + j.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		rows, err := j.repo.DeleteByIDs(ctx, ids[start:end])
		if err != nil {
			return deleted, err
		}
		deleted += rows
	}
	return deleted, nil
}
