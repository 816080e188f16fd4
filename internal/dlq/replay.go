package dlq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

// replayedMetadataKey marks republished messages so consumers can tell them
// from first deliveries.
const replayedMetadataKey = "replayed"

// Service replays dead-lettered events back onto their original topics.
type Service struct {
	store     RecordStore
	publisher message.Publisher
	marshaler events.Marshaler
	logger    watermill.LoggerAdapter
}

// NewService creates a replay Service.
func NewService(store RecordStore, publisher message.Publisher, logger watermill.LoggerAdapter) (*Service, error) {
	if store == nil {
		return nil, errors.New("missing record store")
	}
	if publisher == nil {
		return nil, errors.New("missing publisher")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Replay republishes the recorded event to its original topic. An event that
// was already replayed is not published again; the record keeps its replayed
// status and the skip is reported in LastResult. The updated record is
// returned either way; a failed attempt is reported in the record, not as an
// error.
func (s *Service) Replay(ctx context.Context, eventID string) (*Record, error) {
	record, err := s.store.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if record.Status == StatusReplayed {
		record.LastResult = "already replayed"
		if err := s.store.Update(ctx, record); err != nil {
			return nil, err
		}

		s.logger.Info("Replay skipped, event already replayed", watermill.LogFields{"event_id": eventID})
		return record, nil
	}

	record.Attempts++

	if _, err := events.Unmarshal(record.EventType, record.Payload); err != nil {
		record.Status = StatusFailed
		record.LastResult = "payload not replayable: " + err.Error()
		if updateErr := s.store.Update(ctx, record); updateErr != nil {
			return nil, updateErr
		}

		s.logger.Error("Replay failed, payload not replayable", err, watermill.LogFields{"event_id": eventID})
		return record, nil
	}

	msg := message.NewMessage(record.EventID, message.Payload(record.Payload))
	s.marshaler.SetNameOnMessage(msg, record.EventType)
	msg.Metadata.Set(replayedMetadataKey, "true")
	msg.SetContext(ctx)

	if err := s.publisher.Publish(record.Topic, msg); err != nil {
		record.Status = StatusFailed
		record.LastResult = "publish failed: " + err.Error()
		if updateErr := s.store.Update(ctx, record); updateErr != nil {
			return nil, updateErr
		}

		s.logger.Error("Replay failed, cannot publish", err, watermill.LogFields{
			"event_id": eventID,
			"topic":    record.Topic,
		})
		return record, nil
	}

	record.Status = StatusReplayed
	record.LastResult = "replayed"
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("Event replayed", watermill.LogFields{
		"event_id": eventID,
		"topic":    record.Topic,
		"attempts": record.Attempts,
	})

	return record, nil
}

// ResetToPending puts a skipped or failed record back into the pending queue.
func (s *Service) ResetToPending(ctx context.Context, eventID string) (*Record, error) {
	record, err := s.store.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	record.Status = StatusPending
	record.LastResult = "reset to pending"
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// ListByStatus returns all records with the given status, newest first.
func (s *Service) ListByStatus(ctx context.Context, status ReplayStatus) ([]*Record, error) {
	return s.store.FindByStatus(ctx, status)
}

// Stats returns per-status record counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}
