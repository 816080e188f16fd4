// Package resilience wraps message transports with retry behaviour.
package resilience

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// PublisherConfig tunes the publish retry policy.
type PublisherConfig struct {
	// MaxRetries is the number of attempts after the first failed publish.
	MaxRetries uint64

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the growing delay between retries.
	MaxInterval time.Duration
}

func (c *PublisherConfig) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 5 * time.Second
	}
}

// Publisher decorates a message.Publisher with exponential backoff, so
// transient broker hiccups do not surface to handlers.
type Publisher struct {
	wrapped message.Publisher
	config  PublisherConfig
	logger  watermill.LoggerAdapter
}

// NewPublisher creates the decorator.
func NewPublisher(wrapped message.Publisher, config PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if wrapped == nil {
		return nil, errors.New("missing publisher to wrap")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	config.setDefaults()

	return &Publisher{
		wrapped: wrapped,
		config:  config,
		logger:  logger,
	}, nil
}

// Publish forwards to the wrapped publisher, retrying failed attempts with
// exponential backoff up to MaxRetries.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.config.InitialInterval
	policy.MaxInterval = p.config.MaxInterval

	publish := func() error {
		return p.wrapped.Publish(topic, messages...)
	}

	notify := func(err error, next time.Duration) {
		p.logger.Info("Publish failed, retrying", watermill.LogFields{
			"topic":   topic,
			"next_in": next.String(),
			"err":     err.Error(),
		})
	}

	err := backoff.RetryNotify(publish, backoff.WithMaxRetries(policy, p.config.MaxRetries), notify)
	return errors.Wrapf(err, "publishing to %s", topic)
}

// Close closes the wrapped publisher.
func (p *Publisher) Close() error {
	return p.wrapped.Close()
}
