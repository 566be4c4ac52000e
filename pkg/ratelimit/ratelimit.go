// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides token-bucket limiting of accepted connections.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a token bucket that holds at most capacity
// tokens and gains refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token, reporting whether one was available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens, reporting whether they were available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	added := int64(elapsed * float64(tb.refillRate))
	if added > 0 {
		tb.tokens += added
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Available returns the number of tokens currently available.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// cleanupInterval is the cadence of the background sweep that evicts
// idle client buckets.
const cleanupInterval = 5 * time.Minute

// Limiter tracks a token bucket per client address. During connection
// storms in keep-alive experiments it keeps one misbehaving client from
// starving the accept loop for everyone else.
type Limiter struct {
	mu           sync.RWMutex
	buckets      map[string]*TokenBucket
	capacity     int64
	refillRate   int64
	maxClients   int
	cleanupTimer *time.Timer
}

// NewLimiter creates a per-client limiter. maxClients bounds the number
// of tracked addresses; when the bound is reached, idle clients are
// evicted before new addresses are rejected.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	if maxClients == 0 {
		maxClients = 10000
	}

	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
	}

	// Periodic cleanup of idle buckets
	l.cleanupTimer = time.AfterFunc(cleanupInterval, l.cleanup)

	return l
}

// Allow reports whether a connection from the given client address
// should be accepted.
func (l *Limiter) Allow(client string) bool {
	l.mu.RLock()
	tb, ok := l.buckets[client]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		// Another accept goroutine may have created it meanwhile.
		tb, ok = l.buckets[client]
		if !ok {
			if len(l.buckets) >= l.maxClients {
				l.reclaim()
			}
			if len(l.buckets) >= l.maxClients {
				l.mu.Unlock()
				return false
			}
			tb = NewTokenBucket(l.capacity, l.refillRate)
			l.buckets[client] = tb
		}
		l.mu.Unlock()
	}

	return tb.Allow()
}

// Remove forgets a client's bucket.
func (l *Limiter) Remove(client string) {
	l.mu.Lock()
	delete(l.buckets, client)
	l.mu.Unlock()
}

// reclaim evicts buckets that have refilled to capacity. A full bucket
// means the client has been idle long enough to regain its whole
// budget, so forgetting it is indistinguishable from keeping it.
// Callers hold l.mu.
func (l *Limiter) reclaim() {
	for client, tb := range l.buckets {
		if tb.Available() == tb.capacity {
			delete(l.buckets, client)
		}
	}
}

// cleanup runs the periodic sweep so tracked addresses shrink between
// experiments even when the client bound is never hit.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	l.reclaim()
	l.cleanupTimer = time.AfterFunc(cleanupInterval, l.cleanup)
	l.mu.Unlock()
}

// Close stops the cleanup timer.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cleanupTimer != nil {
		l.cleanupTimer.Stop()
	}
}

// Clients returns the number of tracked client addresses.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
