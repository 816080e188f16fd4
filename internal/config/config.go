// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config is the service configuration, read from ORDERSVC_* variables.
type Config struct {
	// HTTPAddr is the listen address of the admin and metrics endpoints.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// DatabaseDSN is the MySQL DSN. When empty, in-memory stores are used.
	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	// LogDebug enables debug logging.
	LogDebug bool `envconfig:"LOG_DEBUG"`

	CartValidationTimeout time.Duration `envconfig:"CART_VALIDATION_TIMEOUT" default:"2m"`
	PaymentTimeout        time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"5m"`
	ConfirmationTimeout   time.Duration `envconfig:"CONFIRMATION_TIMEOUT" default:"1m"`

	RetryMaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"1s"`
	RetryMultiplier   float64       `envconfig:"RETRY_MULTIPLIER" default:"2.0"`
	RetryMaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"5m"`

	// StaleSweepInterval is how often sagas with lost timeouts are swept.
	StaleSweepInterval time.Duration `envconfig:"STALE_SWEEP_INTERVAL" default:"1m"`

	// StaleAfter is how long a saga may sit unchanged in a non-terminal
	// state before the sweeper treats it as timed out. It must exceed the
	// longest step timeout, or sagas get failed while still waiting.
	StaleAfter time.Duration `envconfig:"STALE_AFTER" default:"10m"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("ORDERSVC", &c); err != nil {
		return Config{}, errors.Wrap(err, "loading config from env")
	}

	longest := c.CartValidationTimeout
	if c.PaymentTimeout > longest {
		longest = c.PaymentTimeout
	}
	if c.ConfirmationTimeout > longest {
		longest = c.ConfirmationTimeout
	}
	if c.StaleAfter <= longest {
		return Config{}, errors.New("ORDERSVC_STALE_AFTER must exceed the longest step timeout")
	}

	return c, nil
}
