package session

import (
	"errors"
	"fmt"
	"time"
)

// DefaultServicePort is the port every peer's onion service listens on.
const DefaultServicePort = 11009

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines peer connection timing.
type Config struct {
	ServicePort           int
	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration // 0 disables the read deadline
	WriteTimeout          time.Duration
	DeadConnectionTimeout time.Duration
	ReapInterval          time.Duration
	Backoff               BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ServicePort:           DefaultServicePort,
		ConnectTimeout:        60 * time.Second,
		ReadTimeout:           0,
		WriteTimeout:          30 * time.Second,
		DeadConnectionTimeout: 15 * time.Minute,
		ReapInterval:          30 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Minute,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero field from DefaultConfig. ReadTimeout is left
// as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ServicePort == 0 {
		c.ServicePort = def.ServicePort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.DeadConnectionTimeout <= 0 {
		c.DeadConnectionTimeout = def.DeadConnectionTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("%w: service port %d", ErrInvalidConfig, c.ServicePort)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative read timeout", ErrInvalidConfig)
	}
	if c.DeadConnectionTimeout <= 0 {
		return fmt.Errorf("%w: dead connection timeout must be positive", ErrInvalidConfig)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("%w: reap interval must be positive", ErrInvalidConfig)
	}
	return nil
}
