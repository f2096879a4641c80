// Package ratelimit implements the token bucket guarding anchor
// registration. No token bucket library available demonstrates the
// exact accrual arithmetic required here, so the algorithm is
// hand-implemented directly, the same way storage/memory.go hand-rolls
// a mutex-guarded map rather than reach for an unverified cache
// library.
package ratelimit

import (
	"sync"
	"time"
)

// Config parameterizes a Limiter.
type Config struct {
	MaxTokens    uint64
	TimePerToken time.Duration
}

// RateLimitedError is returned by Allow when no tokens remain.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string { return "rate limited" }

// Limiter is a token bucket, lazily initialized to full on first use.
// Its state is intentionally not persisted across process restarts.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	now    func() time.Time
	init   bool
	tokens uint64
	stamp  time.Time
}

// New returns a Limiter for cfg. now is injected for deterministic
// testing, the same pattern dex uses throughout its storage tests.
func New(cfg Config, now func() time.Time) *Limiter {
	return &Limiter{cfg: cfg, now: now}
}

// Allow attempts to consume one token, failing with RateLimitedError
// if none are available.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.init {
		l.tokens = l.cfg.MaxTokens
		l.stamp = now
		l.init = true
	}

	elapsed := now.Sub(l.stamp)
	accrued := uint64(0)
	if l.cfg.TimePerToken > 0 && elapsed > 0 {
		accrued = uint64(elapsed / l.cfg.TimePerToken)
	}

	newTokens := l.tokens + accrued
	if newTokens > l.cfg.MaxTokens {
		newTokens = l.cfg.MaxTokens
	}

	l.stamp = l.stamp.Add(time.Duration(newTokens-l.tokens) * l.cfg.TimePerToken)
	l.tokens = newTokens

	if l.tokens == 0 {
		return &RateLimitedError{}
	}
	l.tokens--
	return nil
}
