package executorpool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Prewarm runs probe with jittered exponential backoff until it
// succeeds or ctx is cancelled, logging each attempt. It is meant to be
// launched in a goroutine at server start-up so the first real request
// doesn't pay the backend's cold-start latency.
//
// This is not a task-level retry: a failed translation is never
// retried. Prewarm only runs probe; the dispatch loop does not wait for
// it before calling Acquire.
func Prewarm(ctx context.Context, logger *zap.Logger, probe func(context.Context) error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0 // retry until ctx is cancelled

	attempt := 0
	operation := func() error {
		attempt++
		err := probe(ctx)
		if err != nil {
			logger.Warn("executor prewarm probe failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		logger.Warn("executor prewarm gave up", zap.Error(err))
		return
	}
	logger.Info("executor prewarm succeeded", zap.Int("attempts", attempt))
}
