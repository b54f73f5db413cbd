package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/bamelis/regrelay/pkg/db/models"
	"github.com/bamelis/regrelay/pkg/enums"
	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func jsonDecode(data []byte) (types.LifeEvent, error) {
	var event types.LifeEvent
	err := json.Unmarshal(data, &event)
	return event, err
}

func TestConsumerAcksStoredEvent(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{}
	processor := newTestProcessor(t, store)
	consumer := &Consumer{processor: processor, decode: jsonDecode, logg: testLogger()}

	event := baseEvent(enums.CategoryGuardianship, enums.ChangeCreated)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(store.stored) != 1 {
		t.Fatalf("expected event to reach the store")
	}
}

func TestConsumerNacksUndecodableMessage(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{}
	processor := newTestProcessor(t, store)
	consumer := &Consumer{processor: processor, decode: jsonDecode, logg: testLogger()}

	result := consumer.process(context.Background(), &pubsub.Message{Data: []byte("{not json")})
	if !result.nack {
		t.Fatalf("expected nack on decode failure, got %+v", result)
	}
}

func TestConsumerNacksOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{storeErr: errors.New("db down")}
	processor := newTestProcessor(t, store)
	consumer := &Consumer{processor: processor, decode: jsonDecode, logg: testLogger()}

	event := baseEvent(enums.CategoryGuardianship, enums.ChangeCreated)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.nack {
		t.Fatalf("expected nack on store failure, got %+v", result)
	}
}

func TestConsumerAcksValidationDrop(t *testing.T) {
	t.Parallel()

	store := &fakeEventStore{}
	processor := newTestProcessor(t, store)
	consumer := &Consumer{processor: processor, decode: jsonDecode, logg: testLogger()}

	// Death without a death date is dropped, not redelivered.
	event := baseEvent(enums.CategoryDeath, enums.ChangeCreated)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.ack {
		t.Fatalf("expected ack on validation drop, got %+v", result)
	}
	if len(store.stored) != 0 {
		t.Fatalf("dropped event must not be stored")
	}
}

type fakeAccountStore struct {
	stored   []string
	storeErr error
}

func (f *fakeAccountStore) StoreAccountChange(_ context.Context, actorID string) (*models.AccountChangeRecord, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.stored = append(f.stored, actorID)
	return &models.AccountChangeRecord{ActorID: actorID}, nil
}

func accountDecode(data []byte) (types.AccountChangeNotification, error) {
	var notification types.AccountChangeNotification
	err := json.Unmarshal(data, &notification)
	return notification, err
}

func TestAccountChangeConsumerStoresResolvedActor(t *testing.T) {
	t.Parallel()

	store := &fakeAccountStore{}
	consumer := &AccountChangeConsumer{
		store:    store,
		decode:   accountDecode,
		resolver: StableActorIDResolver(),
		logg:     testLogger(),
	}

	data, err := json.Marshal(types.AccountChangeNotification{AccountHolderID: "1234567890123"})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.ack {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(store.stored) != 1 || store.stored[0] != "1234567890123" {
		t.Fatalf("unexpected stored actors %v", store.stored)
	}
}

func TestAccountChangeConsumerNacksUnresolvableActor(t *testing.T) {
	t.Parallel()

	store := &fakeAccountStore{}
	consumer := &AccountChangeConsumer{
		store:    store,
		decode:   accountDecode,
		resolver: StableActorIDResolver(),
		logg:     testLogger(),
	}

	data, err := json.Marshal(types.AccountChangeNotification{AccountHolderID: "short"})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}
	if len(store.stored) != 0 {
		t.Fatalf("nothing should be stored for an unresolved actor")
	}
}

func TestAccountChangeConsumerNacksOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeAccountStore{storeErr: errors.New("db down")}
	consumer := &AccountChangeConsumer{
		store:    store,
		decode:   accountDecode,
		resolver: StableActorIDResolver(),
		logg:     testLogger(),
	}

	data, err := json.Marshal(types.AccountChangeNotification{AccountHolderID: "1234567890123"})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}

	result := consumer.process(context.Background(), &pubsub.Message{Data: data})
	if !result.nack {
		t.Fatalf("expected nack, got %+v", result)
	}
}
