package seatbridge

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int `yaml:"threshold" toml:"threshold"`

	// Timeout is how long the circuit stays open before one probe is let
	// through.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// DefaultBreakerConfig returns threshold 5, timeout 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Timeout: 30 * time.Second}
}

// CircuitBreaker gates attempts against one backend. While open, Allow
// rejects without the caller touching the network. After Timeout exactly
// one probe is allowed (half-open); its outcome closes or re-opens the
// circuit.
type CircuitBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

// NewCircuitBreaker builds a breaker. onChange may be nil.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *slog.Logger, onChange func(from, to gobreaker.State)) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	threshold := uint32(cfg.Threshold)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("circuit opened", "breaker", name, "from", from.String())
			} else {
				logger.Info("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
			if onChange != nil {
				onChange(from, to)
			}
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewTwoStepCircuitBreaker(settings)}
}

// Allow asks for permission to attempt a call. On success the returned done
// function must be called exactly once with the attempt's outcome; it
// records the success or failure. A rejected attempt returns ErrCircuitOpen.
func (b *CircuitBreaker) Allow() (done func(success bool), err error) {
	done, err = b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return done, nil
}

// IsOpen reports whether attempts are currently being rejected. Once the
// open timeout has elapsed this returns false and a single probe may run.
func (b *CircuitBreaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state.
func (b *CircuitBreaker) State() gobreaker.State { return b.cb.State() }

// ConsecutiveFailures returns the current failure streak.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string { return b.cb.Name() }
