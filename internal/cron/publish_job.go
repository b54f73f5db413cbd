package cron

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bamelis/regrelay/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultPublishBatchSize = 2000
	defaultReceivedGrace    = 5 * time.Minute
	defaultPublishedGrace   = 30 * time.Minute
)

type publishRepo interface {
	SelectSubjectsWithRecentPersonChanges(ctx context.Context) (map[string][]string, error)
	SelectSubjectsWithRecentAccountChanges(ctx context.Context, receivedBefore, publishedBefore time.Time) (map[string][]string, error)
	MarkPersonChangesPublished(ctx context.Context, actorID string) error
	MarkAccountChangesPublished(ctx context.Context, actorID string, now time.Time) error
}

type changePublisher interface {
	Publish(ctx context.Context, actorID string, identifiers []string) error
}

type PublishJobParams struct {
	Logger         *logger.Logger
	Repository     publishRepo
	Publisher      changePublisher
	MaxBatchSize   int
	ReceivedGrace  time.Duration
	PublishedGrace time.Duration
}

// NewPublishJob builds the job that emits per-subject change notifications,
// merging person changes and account changes into one message per actor.
func NewPublishJob(params PublishJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("event repository required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("change publisher required")
	}
	batchSize := params.MaxBatchSize
	if batchSize <= 0 {
		batchSize = defaultPublishBatchSize
	}
	receivedGrace := params.ReceivedGrace
	if receivedGrace <= 0 {
		receivedGrace = defaultReceivedGrace
	}
	publishedGrace := params.PublishedGrace
	if publishedGrace <= 0 {
		publishedGrace = defaultPublishedGrace
	}
	return &publishJob{
		logg:           params.Logger,
		repo:           params.Repository,
		publisher:      params.Publisher,
		batchSize:      batchSize,
		receivedGrace:  receivedGrace,
		publishedGrace: publishedGrace,
		now:            time.Now,
	}, nil
}

type publishJob struct {
	logg           *logger.Logger
	repo           publishRepo
	publisher      changePublisher
	batchSize      int
	receivedGrace  time.Duration
	publishedGrace time.Duration
	now            func() time.Time
}

type publishSubject struct {
	identifiers []string
	fromPerson  bool
	fromAccount bool
}

func (j *publishJob) Name() string { return "publish-change-notifications" }

// Run publishes one notification per subject. A subject is only marked
// published after its notification is acknowledged, and one subject's
// failure never stops the rest of the batch.
func (j *publishJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	accounts, err := j.repo.SelectSubjectsWithRecentAccountChanges(ctx, now.Add(-j.receivedGrace), now.Add(-j.publishedGrace))
	if err != nil {
		return fmt.Errorf("select account change subjects: %w", err)
	}
	persons, err := j.repo.SelectSubjectsWithRecentPersonChanges(ctx)
	if err != nil {
		return fmt.Errorf("select person change subjects: %w", err)
	}

	subjects := mergeSubjects(persons, accounts)
	if len(subjects) == 0 {
		j.logg.Info(ctx, "no subjects due for notification")
		return nil
	}

	actorIDs := sortedActorIDs(subjects)
	if len(actorIDs) > j.batchSize {
		j.logg.Info(j.logg.WithField(ctx, "deferred", len(actorIDs)-j.batchSize), "capping notification batch")
		actorIDs = actorIDs[:j.batchSize]
	}

	published := 0
	var errs error
	for _, actorID := range actorIDs {
		subject := subjects[actorID]
		if err := j.publishSubject(ctx, actorID, subject, now); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		published++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subjects":  len(actorIDs),
		"published": published,
	})
	j.logg.Info(logCtx, "notification batch complete")
	if errs != nil {
		return fmt.Errorf("published %d of %d subjects: %w", published, len(actorIDs), errs)
	}
	return nil
}

func (j *publishJob) publishSubject(ctx context.Context, actorID string, subject publishSubject, now time.Time) error {
	if err := j.publisher.Publish(ctx, actorID, subject.identifiers); err != nil {
		return fmt.Errorf("subject %s: %w", actorID, err)
	}
	if subject.fromAccount {
		if err := j.repo.MarkAccountChangesPublished(ctx, actorID, now); err != nil {
			return fmt.Errorf("mark account changes for %s: %w", actorID, err)
		}
	}
	if subject.fromPerson {
		if err := j.repo.MarkPersonChangesPublished(ctx, actorID); err != nil {
			return fmt.Errorf("mark person changes for %s: %w", actorID, err)
		}
	}
	return nil
}

func mergeSubjects(persons, accounts map[string][]string) map[string]publishSubject {
	merged := make(map[string]publishSubject, len(persons)+len(accounts))
	for actorID, identifiers := range persons {
		merged[actorID] = publishSubject{identifiers: identifiers, fromPerson: true}
	}
	for actorID, identifiers := range accounts {
		subject := merged[actorID]
		subject.identifiers = unionIdentifiers(subject.identifiers, identifiers)
		subject.fromAccount = true
		merged[actorID] = subject
	}
	return merged
}

func sortedActorIDs(subjects map[string]publishSubject) []string {
	actorIDs := make([]string, 0, len(subjects))
	for actorID := range subjects {
		actorIDs = append(actorIDs, actorID)
	}
	sort.Strings(actorIDs)
	return actorIDs
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
