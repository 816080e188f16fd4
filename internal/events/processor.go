package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Processor registers typed event handlers on a Watermill router. Each
// handler consumes one topic; messages carrying a different event name than
// the handler expects are acked and skipped.
type Processor struct {
	router     *message.Router
	subscriber message.Subscriber
	marshaler  Marshaler
	logger     watermill.LoggerAdapter
}

// NewProcessor creates a Processor registering handlers on router, consuming
// from subscriber.
func NewProcessor(router *message.Router, subscriber message.Subscriber, logger watermill.LoggerAdapter) (*Processor, error) {
	if router == nil {
		return nil, errors.New("missing router")
	}
	if subscriber == nil {
		return nil, errors.New("missing subscriber")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Processor{
		router:     router,
		subscriber: subscriber,
		logger:     logger,
	}, nil
}

// AddHandler registers handleFunc for the event type T on the topic derived
// from T's name.
func AddHandler[T any](p *Processor, handlerName string, handleFunc func(ctx context.Context, event *T) error) error {
	expectedName := p.marshaler.Name(new(T))

	topic, err := TopicFor(expectedName)
	if err != nil {
		return err
	}

	p.router.AddNoPublisherHandler(
		handlerName,
		topic,
		p.subscriber,
		func(msg *message.Message) error {
			receivedName := p.marshaler.NameFromMessage(msg)
			if receivedName != expectedName {
				p.logger.Trace("Received different event type than expected, ignoring", watermill.LogFields{
					"message_uuid":        msg.UUID,
					"expected_event_type": expectedName,
					"received_event_type": receivedName,
				})
				return nil
			}

			event := new(T)
			if err := p.marshaler.Unmarshal(msg, event); err != nil {
				return err
			}

			p.logger.Debug("Handling event", watermill.LogFields{
				"message_uuid": msg.UUID,
				"event_type":   receivedName,
				"handler_name": handlerName,
			})

			return handleFunc(msg.Context(), event)
		},
	)

	return nil
}
