package intake

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/types"
)

// DecodeFunc turns one raw stream message into a typed life event. The wire
// deserializer is external to this service and injected at wiring time.
type DecodeFunc func(data []byte) (types.LifeEvent, error)

// Consumer pulls life events off the registry subscription and runs them
// through the intake processor.
type Consumer struct {
	processor    *Processor
	subscription *pubsub.Subscriber
	decode       DecodeFunc
	logg         *logger.Logger
}

// NewConsumer constructs a consumer that watches the provided subscription.
func NewConsumer(processor *Processor, subscription *pubsub.Subscriber, decode DecodeFunc, logg *logger.Logger) (*Consumer, error) {
	if processor == nil {
		return nil, errors.New("intake processor is required")
	}
	if subscription == nil {
		return nil, errors.New("life event subscription is required")
	}
	if decode == nil {
		return nil, errors.New("decoder is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		processor:    processor,
		subscription: subscription,
		decode:       decode,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	event, err := c.decode(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode life event", err)
		return processResult{nack: true}
	}

	if err := c.processor.Process(ctx, event); err != nil {
		logCtx = c.logg.WithEventID(logCtx, event.EventID)
		c.logg.Error(logCtx, "failed to process life event", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}
