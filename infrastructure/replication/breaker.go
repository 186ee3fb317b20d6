// Package replication holds the external sinks that receive every change of the
// table: an S3 archive and a Postgres projection, each guarded by a circuit breaker.
package replication

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// BreakerConfig holds configuration for the sink circuit breaker
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that opens the circuit once
	// MinRequests have been seen in the current interval.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a default configuration for the sink breaker
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// BreakerSink stops calling a failing sink for a while. Records rejected by an
// open circuit fail with an unavailable error so that they are retried later.
type BreakerSink struct {
	next    ports.ReplicationSink
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerSink wraps next with a circuit breaker
func NewBreakerSink(next ports.ReplicationSink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Replication sink circuit changed state",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the sink's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerSink{next: next, breaker: breaker, logger: logger}
}

// Compile-time interface check
var _ ports.ReplicationSink = (*BreakerSink)(nil)

// Replicate forwards the record unless the circuit is open
func (s *BreakerSink) Replicate(ctx context.Context, record ports.ReplicationRecord) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Replicate(ctx, record)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewUnavailableError(s.breaker.Name()).WithCause(err)
	}
	return err
}

// State reports the current circuit state
func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}
