package delivery

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/bamelis/regrelay/pkg/logger"
	"go.uber.org/multierr"
)

const destinationAttribute = "destination"

// LegacyProducer hands batches of serialized events to the legacy processing
// system. One Send call covers one transfer batch: every payload is published
// before the results are awaited, and any failed payload fails the batch.
type LegacyProducer struct {
	pub  publisher
	logg *logger.Logger
}

// NewLegacyProducer wraps the outbound legacy topic.
func NewLegacyProducer(pub *gcppubsub.Publisher, logg *logger.Logger) (*LegacyProducer, error) {
	if pub == nil {
		return nil, errors.New("legacy publisher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &LegacyProducer{pub: newGCPPublisher(pub), logg: logg}, nil
}

// Send publishes all payloads to the legacy destination and waits for every
// acknowledgement. The returned error aggregates all failed payloads.
func (p *LegacyProducer) Send(ctx context.Context, destination string, payloads []string) error {
	if len(payloads) == 0 {
		return nil
	}

	results := make([]publishResult, 0, len(payloads))
	for _, payload := range payloads {
		results = append(results, p.pub.Publish(ctx, &gcppubsub.Message{
			Data: []byte(payload),
			Attributes: map[string]string{
				destinationAttribute: destination,
			},
		}))
	}

	var errs error
	for i, result := range results {
		if result == nil {
			errs = multierr.Append(errs, fmt.Errorf("payload %d: publisher unavailable", i))
			continue
		}
		if _, err := result.Get(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payload %d: %w", i, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("send %d payloads to %s: %w", len(payloads), destination, errs)
	}

	logCtx := p.logg.WithField(ctx, "payload_count", len(payloads))
	p.logg.Info(logCtx, "batch handed to legacy destination")
	return nil
}
