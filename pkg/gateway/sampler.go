package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// KeyCounter counts store keys matching a glob pattern.
type KeyCounter interface {
	CountKeys(ctx context.Context, pattern string) (int, error)
}

// KeyCounterFunc adapts a function to KeyCounter.
type KeyCounterFunc func(ctx context.Context, pattern string) (int, error)

// CountKeys calls f.
func (f KeyCounterFunc) CountKeys(ctx context.Context, pattern string) (int, error) {
	return f(ctx, pattern)
}

// KeySampler feeds the active keys gauge on a cron schedule.
type KeySampler struct {
	cron    *cron.Cron
	counter KeyCounter
	metrics *observability.Metrics
	logger  *observability.Logger
	timeout time.Duration
}

// NewKeySampler creates a sampler. It does nothing until Start is called.
func NewKeySampler(counter KeyCounter, metrics *observability.Metrics, logger *observability.Logger) *KeySampler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &KeySampler{
		cron:    cron.New(),
		counter: counter,
		metrics: metrics,
		logger:  logger.WithField("component", "key_sampler"),
		timeout: 10 * time.Second,
	}
}

// Start schedules sampling, e.g. "@every 1m", and runs the scheduler in the background.
func (s *KeySampler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.Sample); err != nil {
		return fmt.Errorf("failed to schedule key sampler: %w", err)
	}
	s.cron.Start()
	s.logger.Infof("key sampler started with schedule %s", schedule)
	return nil
}

// Sample counts the live rate limiter keys once.
func (s *KeySampler) Sample() {
	defer observability.RecoverPanic(s.logger, "key sampler")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.counter.CountKeys(ctx, middleware.KeyPrefix+"*")
	if err != nil {
		s.logger.WithError(err).Warn("failed to count rate limiter keys")
		return
	}
	s.metrics.SetActiveKeys(n)
	s.logger.WithField("keys", n).Debug("sampled rate limiter keys")
}

// Stop stops the scheduler and waits for a running sample, bounded by ctx.
func (s *KeySampler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
