// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry drives the per-request attempt loop: bounded attempts,
// a deadline per attempt, exponential backoff with additive jitter
// between attempts, and accumulation of the attempt history.
//
// The engine does not own the outer request cancellation. Callers pass
// an action that receives the per-attempt context (a child of the outer
// context with the attempt deadline applied); the backoff sleep between
// attempts observes the outer context so a dead caller stops the loop.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/clock"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

// Config configures the attempt loop.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential term of the backoff.
	MaxDelay time.Duration

	// JitterFraction is the maximum additive jitter as a fraction of
	// the exponential term, in [0, 1]. Jitter is never negative.
	JitterFraction float64

	// PerAttemptTimeout is the deadline applied to each attempt's context.
	PerAttemptTimeout time.Duration
}

// DefaultConfig returns the stock retry parameters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		JitterFraction:    0.25,
		PerAttemptTimeout: 10 * time.Second,
	}
}

// Action is one executor invocation. It receives the per-attempt
// context and the 1-based attempt ordinal, and must return an
// ExecutionResult rather than panicking; the engine converts a panic
// into a transient ExecutorException result as a backstop.
type Action func(ctx context.Context, attempt int) datatypes.ExecutionResult

// Result is the outcome of a full retry run.
type Result struct {
	// History holds one entry per attempt, in order. Never empty.
	History datatypes.RetryHistory
}

// Attempts returns the number of attempts made.
func (r Result) Attempts() int {
	return len(r.History)
}

// Final returns the terminal attempt result.
func (r Result) Final() datatypes.ExecutionResult {
	return r.History.Final()
}

// Succeeded reports whether the final attempt succeeded.
func (r Result) Succeeded() bool {
	return r.Final().IsSuccess()
}

// Engine runs actions under the retry policy. Safe for concurrent use;
// the jitter PRNG is seeded per engine and guarded by a mutex.
type Engine struct {
	cfg Config
	clk clock.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an Engine with the given config and clock.
func NewEngine(cfg Config, clk clock.Clock) *Engine {
	return &Engine{
		cfg: cfg,
		clk: clk,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes action up to MaxAttempts times.
//
// Each attempt gets a child context of ctx with PerAttemptTimeout
// applied. The loop terminates on the first non-transient result
// (success or permanent failure), on attempt exhaustion, or when the
// outer ctx is cancelled. The returned history always holds at least
// one attempt, each stamped with its ordinal and start/end times.
func (e *Engine) Run(ctx context.Context, requestID string, action Action) Result {
	history := make(datatypes.RetryHistory, 0, e.cfg.MaxAttempts)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res := e.runAttempt(ctx, attempt, action)
		history = append(history, res)

		if !res.IsTransient() {
			break
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		// Outer cancellation short-circuits further retries.
		if ctx.Err() != nil {
			break
		}

		delay := e.BackoffDelay(attempt)
		slog.Warn("retrying after transient failure",
			"request_id", requestID,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"error_code", res.ErrorCode,
			"backoff_ms", delay.Milliseconds())

		select {
		case <-ctx.Done():
			return Result{History: history}
		case <-time.After(delay):
		}
	}

	return Result{History: history}
}

// runAttempt invokes the action under the per-attempt deadline and
// normalizes the result: ordinal and timestamps are stamped, and a
// panic is converted to a transient failure. A panic racing the
// per-attempt deadline (while the outer context is still live) is
// classified as a Timeout rather than an ExecutorException.
func (e *Engine) runAttempt(ctx context.Context, attempt int, action Action) (res datatypes.ExecutionResult) {
	started := e.clk.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.PerAttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				res = datatypes.Failure(datatypes.ErrCodeTimeout,
					"attempt deadline exceeded", true)
			} else {
				slog.Error("executor panicked",
					"attempt", attempt, "panic", r)
				res = datatypes.Failure(datatypes.ErrCodeExecutorException,
					"executor panicked", true)
			}
			res = stamp(res, attempt, started, e.clk.Now())
		}
	}()

	res = action(attemptCtx, attempt)
	res = stamp(res, attempt, started, e.clk.Now())
	return res
}

func stamp(res datatypes.ExecutionResult, attempt int, started, completed time.Time) datatypes.ExecutionResult {
	res.Attempt = attempt
	if res.StartedAt.IsZero() {
		res.StartedAt = started
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = completed
	}
	if res.CompletedAt.Before(res.StartedAt) {
		res.CompletedAt = res.StartedAt
	}
	return res
}

// BackoffDelay computes the sleep before the attempt following the
// given one: min(MaxDelay, BaseDelay*2^(attempt-1)) plus a uniform
// additive jitter in [0, exp*JitterFraction].
func (e *Engine) BackoffDelay(attempt int) time.Duration {
	exp := e.ExponentialDelay(attempt)
	if e.cfg.JitterFraction <= 0 {
		return exp
	}
	e.mu.Lock()
	f := e.rng.Float64()
	e.mu.Unlock()
	jitter := time.Duration(f * e.cfg.JitterFraction * float64(exp))
	return exp + jitter
}

// ExponentialDelay is the deterministic part of the backoff for the
// given attempt, before jitter.
func (e *Engine) ExponentialDelay(attempt int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}
