package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/bamelis/regrelay/pkg/logger"
)

const (
	defaultPublishAttempts = 3
	baseRetryDelay         = 500 * time.Millisecond
	maxRetryDelay          = 10 * time.Second
	jitterWindow           = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// changeNotification is the outbound wire form consumed by downstream
// subscribers keyed on the stable actor id.
type changeNotification struct {
	ActorID     string   `json:"aktoerid"`
	Identifiers []string `json:"personidenter"`
}

// ChangePublisher emits one change notification per subject, ordered per
// actor id, retrying transient publish failures a bounded number of times.
type ChangePublisher struct {
	pub         publisher
	logg        *logger.Logger
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

// NewChangePublisher wraps the outbound change-notification topic.
// maxAttempts <= 0 falls back to the default.
func NewChangePublisher(pub *gcppubsub.Publisher, maxAttempts int, logg *logger.Logger) (*ChangePublisher, error) {
	if pub == nil {
		return nil, errors.New("change publisher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultPublishAttempts
	}
	pub.EnableMessageOrdering = true
	return &ChangePublisher{
		pub:         newGCPPublisher(pub),
		logg:        logg,
		maxAttempts: maxAttempts,
		sleep:       sleepContext,
	}, nil
}

// Publish sends the notification for one subject and waits for the broker
// acknowledgement. It returns nil only after an acknowledged publish.
func (p *ChangePublisher) Publish(ctx context.Context, actorID string, identifiers []string) error {
	body, err := json.Marshal(changeNotification{ActorID: actorID, Identifiers: identifiers})
	if err != nil {
		return fmt.Errorf("marshal change notification for %s: %w", actorID, err)
	}

	logCtx := p.logg.WithActorID(ctx, actorID)
	backoff := baseRetryDelay
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result := p.pub.Publish(ctx, &gcppubsub.Message{
			Data:        body,
			OrderingKey: actorID,
		})
		if result == nil {
			return errors.New("change publisher unavailable")
		}
		if _, err := result.Get(ctx); err == nil {
			p.logg.Info(logCtx, "change notification published")
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.maxAttempts {
			break
		}
		p.logg.Warn(p.logg.WithField(logCtx, "attempt", attempt), "change notification publish failed, retrying")
		if err := p.sleep(ctx, withJitter(backoff)); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, baseRetryDelay, maxRetryDelay)
	}
	return fmt.Errorf("publish change notification for %s after %d attempts: %w", actorID, p.maxAttempts, lastErr)
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
