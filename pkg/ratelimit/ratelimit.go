// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-key token bucket rate limiting.
//
// fproxy uses it on the observation side only: a limited topic is still
// forwarded, its hooks are just skipped.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxKeys = 10000
	defaultIdleTTL = 5 * time.Minute
)

// Config configures a Limiter.
type Config struct {
	// Rate is the number of events per second allowed per key.
	Rate float64
	// Burst is the bucket size per key.
	Burst int
	// MaxKeys bounds the number of tracked keys. Keys beyond it are limited.
	MaxKeys int
	// IdleTTL evicts keys not seen for this long.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	buckets map[string]*bucket
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates a limiter and starts its eviction of idle keys.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}

	l := &Limiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
		cleanup: time.NewTicker(cfg.IdleTTL),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.evictLoop()

	return l
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.config.MaxKeys {
			return false
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.config.Rate), l.config.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Remove forgets key.
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops idle key eviction.
func (l *Limiter) Close() {
	l.once.Do(func() {
		l.cleanup.Stop()
		close(l.done)
	})
}

func (l *Limiter) evictLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.evict()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.config.IdleTTL {
			delete(l.buckets, key)
		}
	}
}
