package session

import (
	"errors"
	"time"

	"github.com/danmuck/hsslink/internal/bus"
)

var (
	ErrInvalidRetryBudget  = errors.New("session: max retries must be positive")
	ErrInvalidProbeTimeout = errors.New("session: probe timeout must be positive")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link reliability defaults.
type Config struct {
	// MaxRetries bounds failed block writes within one send.
	MaxRetries int
	Backoff    BackoffConfig
	// ProbeTimeout bounds a write-style liveness ping.
	ProbeTimeout time.Duration
	ProbeStyle   bus.ProbeStyle
	// SettleDelay is waited after a topology event completes, before scanning.
	SettleDelay time.Duration
}

// DefaultConfig returns the bus link defaults: 32 retries 1ms apart and a
// 100ms probe window.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 32,
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     10 * time.Millisecond,
			Jitter:       false,
		},
		ProbeTimeout: 100 * time.Millisecond,
		ProbeStyle:   bus.ProbeRead,
		SettleDelay:  0,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxRetries <= 0 {
		return ErrInvalidRetryBudget
	}
	if c.ProbeTimeout <= 0 {
		return ErrInvalidProbeTimeout
	}
	return nil
}

// Retrier returns a retry runner bound to this config.
func (c Config) Retrier() Retrier {
	return Retrier{Backoff: c.Backoff, MaxRetries: c.MaxRetries}
}
