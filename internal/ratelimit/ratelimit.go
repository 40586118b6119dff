// Package ratelimit implements token bucket rate limiting for the HTTP
// API. The bucket state lives in a pluggable Backend so that a single
// Redis-backed deployment can share limits across replicas while the
// memory and bolt store configurations fall back to in-process buckets.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Backend performs an atomic token bucket check. Implementations must
// refill the bucket for the elapsed time, deduct the requested tokens
// when available, and report whether the request was allowed along with
// the remaining token count.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error)
}

// Config holds the token bucket parameters applied to every client.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Limiter applies a token bucket rate limit through a Backend.
type Limiter struct {
	backend Backend
	cfg     Config
}

// New creates a rate limiter. A zero burst size defaults to twice the
// per-second rate so short bursts are absorbed without rejections.
func New(backend Backend, cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	return &Limiter{
		backend: backend,
		cfg:     cfg,
	}
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow checks if a single request is allowed for the given key
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN checks if N requests are allowed
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (Result, error) {
	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key,
		l.cfg.BurstSize, l.cfg.RequestsPerSecond, n)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	// Calculate when the bucket will be full again
	tokensNeeded := float64(l.cfg.BurstSize) - float64(remaining)
	refillSeconds := tokensNeeded / l.cfg.RequestsPerSecond
	resetAt := time.Now().Add(time.Duration(refillSeconds * float64(time.Second)))

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Burst returns the configured bucket capacity.
func (l *Limiter) Burst() int {
	return l.cfg.BurstSize
}

// KeyForIP returns the rate limit key for a client IP address
func KeyForIP(ip string) string {
	return "ip:" + ip
}
