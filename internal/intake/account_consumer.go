package intake

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/bamelis/regrelay/pkg/db/models"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/types"
)

const actorIDLength = 13

// AccountDecodeFunc turns one raw account-change message into its typed form.
type AccountDecodeFunc func(data []byte) (types.AccountChangeNotification, error)

// SubjectResolver maps an account holder to the stable actor id used as the
// subject key. Lookups against the person registry live behind this interface.
type SubjectResolver interface {
	ResolveActorID(ctx context.Context, accountHolderID string) (string, error)
}

// SubjectResolverFunc adapts a function to the SubjectResolver interface.
type SubjectResolverFunc func(ctx context.Context, accountHolderID string) (string, error)

func (f SubjectResolverFunc) ResolveActorID(ctx context.Context, accountHolderID string) (string, error) {
	return f(ctx, accountHolderID)
}

// StableActorIDResolver accepts account holders already keyed by actor id.
func StableActorIDResolver() SubjectResolver {
	return SubjectResolverFunc(func(_ context.Context, accountHolderID string) (string, error) {
		if len(accountHolderID) != actorIDLength {
			return "", fmt.Errorf("account holder %q is not a stable actor id", accountHolderID)
		}
		return accountHolderID, nil
	})
}

type accountChangeStore interface {
	StoreAccountChange(ctx context.Context, actorID string) (*models.AccountChangeRecord, error)
}

// AccountChangeConsumer records account-change notifications for the publish job.
type AccountChangeConsumer struct {
	store        accountChangeStore
	subscription *pubsub.Subscriber
	decode       AccountDecodeFunc
	resolver     SubjectResolver
	logg         *logger.Logger
}

// NewAccountChangeConsumer constructs a consumer for the account-change subscription.
func NewAccountChangeConsumer(store accountChangeStore, subscription *pubsub.Subscriber, decode AccountDecodeFunc, resolver SubjectResolver, logg *logger.Logger) (*AccountChangeConsumer, error) {
	if store == nil {
		return nil, errors.New("account change store is required")
	}
	if subscription == nil {
		return nil, errors.New("account change subscription is required")
	}
	if decode == nil {
		return nil, errors.New("decoder is required")
	}
	if resolver == nil {
		resolver = StableActorIDResolver()
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &AccountChangeConsumer{
		store:        store,
		subscription: subscription,
		decode:       decode,
		resolver:     resolver,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *AccountChangeConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *AccountChangeConsumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	notification, err := c.decode(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode account change", err)
		return processResult{nack: true}
	}

	actorID, err := c.resolver.ResolveActorID(ctx, notification.AccountHolderID)
	if err != nil {
		c.logg.Error(logCtx, "failed to resolve account holder", err)
		return processResult{nack: true}
	}
	logCtx = c.logg.WithActorID(logCtx, actorID)

	if _, err := c.store.StoreAccountChange(ctx, actorID); err != nil {
		c.logg.Error(logCtx, "failed to store account change", err)
		return processResult{nack: true}
	}
	c.logg.Info(logCtx, "account change stored")
	return processResult{ack: true}
}
