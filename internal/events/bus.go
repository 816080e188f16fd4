package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Bus publishes events on their topics.
type Bus struct {
	publisher message.Publisher
	marshaler Marshaler
	logger    watermill.LoggerAdapter
}

// NewBus creates a Bus on top of publisher.
func NewBus(publisher message.Publisher, logger watermill.LoggerAdapter) (*Bus, error) {
	if publisher == nil {
		return nil, errors.New("missing publisher")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Bus{
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Publish marshals the event and publishes it on the topic derived from the
// event's name.
func (b *Bus) Publish(ctx context.Context, event any) error {
	msg, err := b.marshaler.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "cannot marshal event")
	}

	eventName := b.marshaler.Name(event)
	topic, err := TopicFor(eventName)
	if err != nil {
		return err
	}

	msg.SetContext(ctx)

	b.logger.Trace("Publishing event", watermill.LogFields{
		"event_name":   eventName,
		"topic":        topic,
		"message_uuid": msg.UUID,
	})

	return b.publisher.Publish(topic, msg)
}
