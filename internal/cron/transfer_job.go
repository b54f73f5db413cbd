package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
)

const (
	defaultTransferDebounceMinutes = 120
	defaultTransferBatchSize       = 6500
)

type transferRepo interface {
	SelectTransferCandidates(ctx context.Context, olderThan time.Time, limit int) ([]uint64, error)
	SelectPayloadsByIDs(ctx context.Context, ids []uint64) ([]string, error)
	MarkStatusBatch(ctx context.Context, ids []uint64, status enums.EventStatus) error
}

type legacySender interface {
	Send(ctx context.Context, destination string, payloads []string) error
}

type TransferJobParams struct {
	Logger          *logger.Logger
	Repository      transferRepo
	Sender          legacySender
	Destination     string
	DebounceMinutes int
	MaxBatchSize    int
}

// NewTransferJob builds the job that relays settled events to the legacy
// processing system.
func NewTransferJob(params TransferJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("event repository required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("legacy sender required")
	}
	if params.Destination == "" {
		return nil, fmt.Errorf("legacy destination required")
	}
	debounce := params.DebounceMinutes
	if debounce <= 0 {
		debounce = defaultTransferDebounceMinutes
	}
	batchSize := params.MaxBatchSize
	if batchSize <= 0 {
		batchSize = defaultTransferBatchSize
	}
	return &transferJob{
		logg:        params.Logger,
		repo:        params.Repository,
		sender:      params.Sender,
		destination: params.Destination,
		debounce:    time.Duration(debounce) * time.Minute,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

type transferJob struct {
	logg        *logger.Logger
	repo        transferRepo
	sender      legacySender
	destination string
	debounce    time.Duration
	batchSize   int
	now         func() time.Time
}

func (j *transferJob) Name() string { return "transfer-events" }

// Run relays one batch per cycle. The batch is all-or-nothing: the whole
// batch lands in TRANSFERRED on success or TRANSFER_FAILED on any failure,
// so a partial hand-off never leaves rows half-settled.
func (j *transferJob) Run(ctx context.Context) error {
	olderThan := j.now().UTC().Add(-j.debounce)
	ids, err := j.repo.SelectTransferCandidates(ctx, olderThan, j.batchSize)
	if err != nil {
		return fmt.Errorf("select transfer candidates: %w", err)
	}
	if len(ids) == 0 {
		j.logg.Info(ctx, "no events due for transfer")
		return nil
	}

	if err := j.repo.MarkStatusBatch(ctx, ids, enums.StatusInProgress); err != nil {
		return fmt.Errorf("mark batch in progress: %w", err)
	}

	logCtx := j.logg.WithField(ctx, "batch_size", len(ids))
	if err := j.transfer(ctx, ids); err != nil {
		if markErr := j.repo.MarkStatusBatch(ctx, ids, enums.StatusTransferFailed); markErr != nil {
			j.logg.Error(logCtx, "failed to mark batch as failed", markErr)
		}
		return fmt.Errorf("transfer batch of %d: %w", len(ids), err)
	}

	if err := j.repo.MarkStatusBatch(ctx, ids, enums.StatusTransferred); err != nil {
		return fmt.Errorf("mark batch transferred: %w", err)
	}
	j.logg.Info(logCtx, "event batch transferred")
	return nil
}

func (j *transferJob) transfer(ctx context.Context, ids []uint64) error {
	payloads, err := j.repo.SelectPayloadsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load payloads: %w", err)
	}
	return j.sender.Send(ctx, j.destination, payloads)
}
