package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/metrics"
)

// Metadata keys set on messages forwarded to dead-letter topics.
const (
	reasonMetadataKey        = "dead_letter_reason"
	originalTopicMetadataKey = "dead_letter_original_topic"
)

// SagaFailer marks a saga failed when one of its events is dead-lettered.
// *saga.Orchestrator implements it.
type SagaFailer interface {
	MarkFailed(ctx context.Context, orderID, reason string) error
}

// Capture is router middleware that turns handler failures into dead-letter
// records instead of endless redelivery. It runs outside the retry
// middleware, so the error it sees has already exhausted in-place retries.
//
// On failure it persists a Record, forwards a copy of the message to the
// topic's dead-letter counterpart, marks the matching saga failed and acks
// the original message. Only a record-store write failure is propagated,
// since dropping the event without a persisted record would lose it.
type Capture struct {
	store     RecordStore
	publisher message.Publisher
	sagas     SagaFailer
	marshaler events.Marshaler
	metrics   *metrics.SagaMetrics
	logger    watermill.LoggerAdapter
}

// NewCapture creates the middleware. sagas and sagaMetrics may be nil.
func NewCapture(
	store RecordStore,
	publisher message.Publisher,
	sagas SagaFailer,
	sagaMetrics *metrics.SagaMetrics,
	logger watermill.LoggerAdapter,
) (*Capture, error) {
	if store == nil {
		return nil, errors.New("missing record store")
	}
	if publisher == nil {
		return nil, errors.New("missing publisher")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Capture{
		store:     store,
		publisher: publisher,
		sagas:     sagas,
		metrics:   sagaMetrics,
		logger:    logger,
	}, nil
}

// Middleware is the message.HandlerMiddleware to register on the router.
func (c *Capture) Middleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err == nil {
			return produced, nil
		}

		ctx := msg.Context()
		eventType := c.marshaler.NameFromMessage(msg)

		topic := message.SubscribeTopicFromCtx(ctx)
		if topic == "" {
			// Not running inside a router; fall back to the event's own topic.
			topic, _ = events.TopicFor(eventType)
		}

		aggregateID := aggregateIDFromPayload(msg.Payload)

		record := &Record{
			EventID:       msg.UUID,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Topic:         topic,
			Payload:       json.RawMessage(msg.Payload),
			FailureReason: err.Error(),
			FailedAt:      time.Now().UTC(),
			Status:        StatusPending,
		}

		if insertErr := c.store.Insert(ctx, record); insertErr != nil {
			return nil, errors.Wrap(insertErr, "storing dead-letter record")
		}

		c.metrics.EventDeadLettered()
		c.logger.Error("Event dead-lettered", err, watermill.LogFields{
			"event_id":   msg.UUID,
			"event_type": record.EventType,
			"topic":      topic,
			"order_id":   aggregateID,
		})

		c.forward(msg, topic, err)

		if c.sagas != nil && aggregateID != "" {
			if failErr := c.sagas.MarkFailed(ctx, aggregateID, "event dead-lettered: "+err.Error()); failErr != nil {
				c.logger.Error("Cannot mark saga failed for dead-lettered event", failErr, watermill.LogFields{
					"order_id": aggregateID,
				})
			}
		}

		return nil, nil
	}
}

// forward publishes a copy of the message to the topic's dead-letter
// counterpart, best-effort: the persisted record is the source of truth.
func (c *Capture) forward(msg *message.Message, topic string, cause error) {
	if topic == "" {
		return
	}

	copied := msg.Copy()
	copied.Metadata.Set(reasonMetadataKey, cause.Error())
	copied.Metadata.Set(originalTopicMetadataKey, topic)

	if err := c.publisher.Publish(events.DeadLetterTopic(topic), copied); err != nil {
		c.logger.Error("Cannot forward message to dead-letter topic", err, watermill.LogFields{
			"event_id": msg.UUID,
			"topic":    topic,
		})
	}
}

// aggregateIDFromPayload extracts the order ID from the event JSON without
// knowing its concrete type.
func aggregateIDFromPayload(payload []byte) string {
	var envelope struct {
		AggregateID string `json:"aggregateId"`
		OrderID     string `json:"orderId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}

	if envelope.AggregateID != "" {
		return envelope.AggregateID
	}

	return envelope.OrderID
}
