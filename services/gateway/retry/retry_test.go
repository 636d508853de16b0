// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/clock"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		JitterFraction:    0.25,
		PerAttemptTimeout: time.Second,
	}
}

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, clock.System{})
}

// TestRun_PermanentFailureStopsImmediately verifies a permanent
// failure ends the loop after a single attempt.
func TestRun_PermanentFailureStopsImmediately(t *testing.T) {
	engine := newTestEngine(fastConfig())

	calls := 0
	result := engine.Run(context.Background(), "req-1", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		calls++
		return datatypes.Failure(datatypes.ErrCodeInvalidURI, "bad base", false)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts())
	assert.False(t, result.Succeeded())
	assert.Equal(t, datatypes.ErrCodeInvalidURI, result.Final().ErrorCode)
}

// TestRun_TransientFailureExhaustsAttempts verifies the attempt cap.
func TestRun_TransientFailureExhaustsAttempts(t *testing.T) {
	engine := newTestEngine(fastConfig())

	result := engine.Run(context.Background(), "req-2", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		return datatypes.Failure(datatypes.ErrCodeNetworkError, "connection refused", true)
	})

	assert.Equal(t, 3, result.Attempts())
	assert.False(t, result.Succeeded())
}

// TestRun_SuccessAfterTransientFailures verifies recovery mid-run.
func TestRun_SuccessAfterTransientFailures(t *testing.T) {
	engine := newTestEngine(fastConfig())

	result := engine.Run(context.Background(), "req-3", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		if attempt < 3 {
			return datatypes.Failure(datatypes.ErrCodeNetworkError, "flaky", true)
		}
		return datatypes.HTTPSuccess(200, nil, "ok")
	})

	assert.Equal(t, 3, result.Attempts())
	assert.True(t, result.Succeeded())
}

// TestRun_AttemptOrdinals verifies history index i holds attempt i+1.
func TestRun_AttemptOrdinals(t *testing.T) {
	engine := newTestEngine(fastConfig())

	result := engine.Run(context.Background(), "req-4", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		return datatypes.Failure(datatypes.ErrCodeTimeout, "slow", true)
	})

	require.Len(t, result.History, 3)
	for i, res := range result.History {
		assert.Equal(t, i+1, res.Attempt)
		assert.False(t, res.StartedAt.IsZero())
		assert.False(t, res.CompletedAt.Before(res.StartedAt))
	}
}

// TestRun_SuccessFirstAttempt verifies no retries happen on success.
func TestRun_SuccessFirstAttempt(t *testing.T) {
	engine := newTestEngine(fastConfig())

	calls := 0
	result := engine.Run(context.Background(), "req-5", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		calls++
		return datatypes.HTTPSuccess(204, nil, "")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, result.Succeeded())
}

// TestRun_OuterCancellationStopsRetries verifies a dead caller
// short-circuits the loop instead of burning the remaining attempts.
func TestRun_OuterCancellationStopsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	engine := newTestEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	result := engine.Run(ctx, "req-6", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		cancel()
		return datatypes.Failure(datatypes.ErrCodeNetworkError, "down", true)
	})

	assert.Equal(t, 1, result.Attempts())
}

// TestRun_PanicBecomesExecutorException verifies the panic backstop.
func TestRun_PanicBecomesExecutorException(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	engine := newTestEngine(cfg)

	result := engine.Run(context.Background(), "req-7", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		if attempt == 1 {
			panic("boom")
		}
		return datatypes.HTTPSuccess(200, nil, "recovered")
	})

	require.Equal(t, 2, result.Attempts())
	first := result.History[0]
	assert.Equal(t, datatypes.ErrCodeExecutorException, first.ErrorCode)
	assert.True(t, first.IsTransient())
	assert.True(t, result.Succeeded())
}

// TestRun_PerAttemptDeadlineIsChildOfOuter verifies each attempt
// receives a context carrying the per-attempt deadline.
func TestRun_PerAttemptDeadlineApplied(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.PerAttemptTimeout = 30 * time.Millisecond
	engine := newTestEngine(cfg)

	result := engine.Run(context.Background(), "req-8", func(ctx context.Context, attempt int) datatypes.ExecutionResult {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(cfg.PerAttemptTimeout), deadline, 20*time.Millisecond)
		return datatypes.HTTPSuccess(200, nil, "")
	})

	assert.True(t, result.Succeeded())
}

// TestExponentialDelay verifies doubling and the cap.
func TestExponentialDelay(t *testing.T) {
	engine := newTestEngine(Config{
		MaxAttempts: 6,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	})

	assert.Equal(t, 200*time.Millisecond, engine.ExponentialDelay(1))
	assert.Equal(t, 400*time.Millisecond, engine.ExponentialDelay(2))
	assert.Equal(t, 800*time.Millisecond, engine.ExponentialDelay(3))
	assert.Equal(t, 1600*time.Millisecond, engine.ExponentialDelay(4))
	assert.Equal(t, 3200*time.Millisecond, engine.ExponentialDelay(5))
	assert.Equal(t, 5*time.Second, engine.ExponentialDelay(6))
	assert.Equal(t, 5*time.Second, engine.ExponentialDelay(20))
}

// TestBackoffDelay_Bounds verifies delay stays within
// [exp, exp * (1 + jitter_fraction)] for every attempt.
func TestBackoffDelay_Bounds(t *testing.T) {
	engine := newTestEngine(Config{
		MaxAttempts:    5,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		JitterFraction: 0.25,
	})

	for attempt := 1; attempt <= 5; attempt++ {
		exp := engine.ExponentialDelay(attempt)
		upper := exp + time.Duration(0.25*float64(exp))
		for i := 0; i < 50; i++ {
			delay := engine.BackoffDelay(attempt)
			assert.GreaterOrEqual(t, delay, exp)
			assert.LessOrEqual(t, delay, upper)
		}
	}
}

// TestBackoffDelay_NoJitter verifies a zero fraction is deterministic.
func TestBackoffDelay_NoJitter(t *testing.T) {
	engine := newTestEngine(Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	})

	for i := 0; i < 10; i++ {
		assert.Equal(t, 100*time.Millisecond, engine.BackoffDelay(1))
	}
}

// TestStamp_PreservesExecutorTimestamps verifies the engine does not
// overwrite timestamps an executor already set.
func TestStamp_PreservesExecutorTimestamps(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(time.Second)

	res := datatypes.HTTPSuccess(200, nil, "ok")
	res.StartedAt = started
	res.CompletedAt = completed

	stamped := stamp(res, 2, time.Now(), time.Now())
	assert.Equal(t, 2, stamped.Attempt)
	assert.Equal(t, started, stamped.StartedAt)
	assert.Equal(t, completed, stamped.CompletedAt)
}
