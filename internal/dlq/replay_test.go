package dlq_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/dlq"
	"github.com/GyanXspy/restaurant-orders/internal/events"
)

func newPendingRecord(t *testing.T, store dlq.RecordStore) *dlq.Record {
	t.Helper()

	event := &events.PaymentProcessingCompleted{
		Envelope:  events.NewEnvelope("order-1", 1),
		OrderID:   "order-1",
		PaymentID: "payment-1",
		Status:    events.PaymentCompleted,
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	record := &dlq.Record{
		EventID:       event.EventID,
		AggregateID:   "order-1",
		EventType:     "PaymentProcessingCompleted",
		Topic:         "payment-processing-completed",
		Payload:       payload,
		FailureReason: "boom",
		FailedAt:      time.Now().UTC(),
		Status:        dlq.StatusPending,
	}
	require.NoError(t, store.Insert(context.Background(), record))

	return record
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	store := dlq.NewMemoryStore()
	publisher := newFakePublisher()

	service, err := dlq.NewService(store, publisher, nil)
	require.NoError(t, err)

	record := newPendingRecord(t, store)

	replayed, err := service.Replay(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusReplayed, replayed.Status)
	assert.Equal(t, 1, replayed.Attempts)

	republished := publisher.topic("payment-processing-completed")
	require.Len(t, republished, 1)
	assert.Equal(t, record.EventID, republished[0].UUID)
	assert.JSONEq(t, string(record.Payload), string(republished[0].Payload))
	assert.Equal(t, "PaymentProcessingCompleted", republished[0].Metadata.Get("name"))
	assert.Equal(t, "true", republished[0].Metadata.Get("replayed"))
}

func TestReplay_AlreadyReplayedIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := dlq.NewMemoryStore()
	publisher := newFakePublisher()

	service, err := dlq.NewService(store, publisher, nil)
	require.NoError(t, err)

	record := newPendingRecord(t, store)

	_, err = service.Replay(ctx, record.EventID)
	require.NoError(t, err)

	// The second replay must not publish the event again and must keep the
	// replayed marker, so that further replay requests stay no-ops too.
	skipped, err := service.Replay(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusReplayed, skipped.Status)
	assert.Equal(t, "already replayed", skipped.LastResult)
	assert.Equal(t, 1, skipped.Attempts)
	assert.Len(t, publisher.topic("payment-processing-completed"), 1)

	third, err := service.Replay(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusReplayed, third.Status)
	assert.Equal(t, 1, third.Attempts)
	assert.Len(t, publisher.topic("payment-processing-completed"), 1)
}

func TestReplay_UnknownEvent(t *testing.T) {
	service, err := dlq.NewService(dlq.NewMemoryStore(), newFakePublisher(), nil)
	require.NoError(t, err)

	_, err = service.Replay(context.Background(), "no-such-event")
	assert.True(t, errors.Is(err, dlq.ErrRecordNotFound))
}

func TestReplay_UnreplayablePayload(t *testing.T) {
	ctx := context.Background()
	store := dlq.NewMemoryStore()
	publisher := newFakePublisher()

	service, err := dlq.NewService(store, publisher, nil)
	require.NoError(t, err)

	record := &dlq.Record{
		EventID:   "event-1",
		EventType: "NoSuchEventType",
		Topic:     "payment-processing-completed",
		Payload:   json.RawMessage(`{}`),
		FailedAt:  time.Now().UTC(),
		Status:    dlq.StatusPending,
	}
	require.NoError(t, store.Insert(ctx, record))

	failed, err := service.Replay(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusFailed, failed.Status)
	assert.Contains(t, failed.LastResult, "not replayable")
	assert.Empty(t, publisher.topic("payment-processing-completed"))
}

func TestReplay_PublishFailureThenReset(t *testing.T) {
	ctx := context.Background()
	store := dlq.NewMemoryStore()
	publisher := newFakePublisher()
	publisher.err = errors.New("broker down")

	service, err := dlq.NewService(store, publisher, nil)
	require.NoError(t, err)

	record := newPendingRecord(t, store)

	failed, err := service.Replay(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusFailed, failed.Status)
	assert.Contains(t, failed.LastResult, "publish failed")

	reset, err := service.ResetToPending(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusPending, reset.Status)

	publisher.err = nil
	replayed, err := service.Replay(ctx, record.EventID)
	require.NoError(t, err)
	assert.Equal(t, dlq.StatusReplayed, replayed.Status)
	assert.Equal(t, 2, replayed.Attempts)
}

func TestStatsAndList(t *testing.T) {
	ctx := context.Background()
	store := dlq.NewMemoryStore()
	publisher := newFakePublisher()

	service, err := dlq.NewService(store, publisher, nil)
	require.NoError(t, err)

	record := newPendingRecord(t, store)
	require.NoError(t, store.Insert(ctx, &dlq.Record{
		EventID:  "event-2",
		Topic:    "order-created",
		Payload:  json.RawMessage(`{}`),
		FailedAt: time.Now().UTC(),
		Status:   dlq.StatusPending,
	}))

	_, err = service.Replay(ctx, record.EventID)
	require.NoError(t, err)

	stats, err := service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, dlq.Stats{Pending: 1, Replayed: 1, Total: 2}, stats)

	pending, err := service.ListByStatus(ctx, dlq.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "event-2", pending[0].EventID)
}
