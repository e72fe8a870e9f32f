// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit implements per-source admission control: a token
// bucket with a fair FIFO wait queue. Every outgoing call counted against
// a source's quota first acquires a token; callers that arrive while the
// bucket is empty queue and are granted in strict arrival order by a
// background drain loop owned by the limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/scholar-gateway/internal/telemetry"
)

var (
	// ErrWaitTimeout is returned to a queued caller whose wait exceeded
	// the limiter's WaitTimeout while GrantOnTimeout is off.
	ErrWaitTimeout = errors.New("ratelimit: timed out waiting for token")

	// ErrClosed is returned once the limiter has been shut down.
	ErrClosed = errors.New("ratelimit: limiter closed")
)

// maxSweepPeriod caps the drain-loop tick so queued callers are granted
// within roughly 100ms of a token becoming available even for very slow
// refill rates.
const maxSweepPeriod = 100 * time.Millisecond

const defaultWaitTimeout = 30 * time.Second

// Config constructs a Limiter. RequestsPerSecond is required; everything
// else has defaults.
type Config struct {
	// Source names the source this limiter guards, for logs and metrics.
	Source string

	// RequestsPerSecond is the sustained rate. One token regenerates
	// every 1/RequestsPerSecond seconds. Fractional rates are supported.
	RequestsPerSecond float64

	// Burst is the bucket capacity. Zero means ceil(RequestsPerSecond),
	// with a floor of one.
	Burst int

	// WaitTimeout bounds a queued wait (default 30s).
	WaitTimeout time.Duration

	// GrantOnTimeout grants an expired waiter instead of rejecting it.
	// This lets a long-waiting caller momentarily exceed the contracted
	// rate; off by default.
	GrantOnTimeout bool

	// Debug enables per-grant debug logging.
	Debug bool

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Limiter is a token-bucket admission controller. One instance guards one
// source and is shared by every call into that source; all methods are
// safe for concurrent use.
type Limiter struct {
	source         string
	rps            float64
	capacity       int
	refillInterval time.Duration
	waitTimeout    time.Duration
	grantOnTimeout bool
	debug          bool

	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	queue      []*waiter
	closed     bool

	stop chan struct{}
	done chan struct{}
}

// waiter is one queued caller: its arrival time plus a completion handle.
// The ready channel is buffered so the drain loop never blocks on a
// caller that has already given up.
type waiter struct {
	enqueued time.Time
	ready    chan error
}

// New validates cfg, creates the limiter with a full bucket, and starts
// the drain loop. Call Close to stop it.
func New(cfg Config) (*Limiter, error) {
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("ratelimit: requests per second must be positive, got %v", cfg.RequestsPerSecond)
	}

	capacity := cfg.Burst
	if capacity <= 0 {
		capacity = int(math.Ceil(cfg.RequestsPerSecond))
		if capacity < 1 {
			capacity = 1
		}
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		source:         cfg.Source,
		rps:            cfg.RequestsPerSecond,
		capacity:       capacity,
		refillInterval: time.Duration(float64(time.Second) / cfg.RequestsPerSecond),
		waitTimeout:    waitTimeout,
		grantOnTimeout: cfg.GrantOnTimeout,
		debug:          cfg.Debug,
		logger:         logger.With(zap.String("source", cfg.Source)),
		metrics:        cfg.Metrics,
		tokens:         capacity,
		lastRefill:     time.Now(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	go l.drainLoop()
	return l, nil
}

// Acquire reserves one token for the caller, suspending while the bucket
// is empty. It returns nil once a token is held, ErrWaitTimeout if the
// wait exceeds WaitTimeout, ctx.Err() on cancellation, or ErrClosed after
// shutdown. A token granted concurrently with cancellation is refunded.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	now := time.Now()
	l.refillLocked(now)

	// Immediate path: a token is available, no suspension.
	if l.tokens > 0 {
		l.tokens--
		l.mu.Unlock()
		l.metrics.RecordGrant(l.source, "immediate")
		if l.debug {
			l.logger.Debug("token granted immediately")
		}
		return nil
	}

	w := &waiter{enqueued: now, ready: make(chan error, 1)}
	l.queue = append(l.queue, w)
	l.metrics.SetPending(l.source, len(l.queue))
	l.mu.Unlock()

	l.metrics.RecordWait(l.source)
	if l.debug {
		l.logger.Debug("bucket empty, caller queued")
	}

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		removed := l.removeLocked(w)
		l.mu.Unlock()
		if !removed {
			// The drain loop resolved this waiter before the caller's
			// cancellation took effect. Grants and rejections are sent
			// under the lock, so the result is already buffered.
			if err := <-w.ready; err == nil {
				l.refund()
			}
		}
		return ctx.Err()
	}
}

// Status reports the limiter's observable state after a refill.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return Status{
		AvailableTokens:   l.tokens,
		MaxTokens:         l.capacity,
		RequestsPerSecond: l.rps,
		PendingRequests:   len(l.queue),
	}
}

// Status is a point-in-time snapshot of a limiter.
type Status struct {
	AvailableTokens   int     `json:"available_tokens" yaml:"available_tokens"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	PendingRequests   int     `json:"pending_requests" yaml:"pending_requests"`
}

// Close stops the drain loop and fails every queued waiter with ErrClosed.
// It is safe to call more than once.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, w := range l.queue {
		w.ready <- ErrClosed
	}
	l.queue = nil
	l.metrics.SetPending(l.source, 0)
	l.mu.Unlock()

	close(l.stop)
	<-l.done
}

// drainLoop periodically refills the bucket, grants queued callers in
// arrival order, and sweeps stale waits.
func (l *Limiter) drainLoop() {
	defer close(l.done)

	period := l.refillInterval
	if period > maxSweepPeriod {
		period = maxSweepPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.drain(time.Now())
		}
	}
}

// drain performs one sweep: refill, FIFO grants while tokens remain, then
// stale-wait cleanup.
func (l *Limiter) drain(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.refillLocked(now)

	granted := 0
	for granted < len(l.queue) && l.tokens > 0 {
		l.tokens--
		l.queue[granted].ready <- nil
		l.metrics.RecordGrant(l.source, "queued")
		granted++
	}
	if granted > 0 {
		l.queue = append(l.queue[:0], l.queue[granted:]...)
		if l.debug {
			l.logger.Debug("granted queued callers", zap.Int("granted", granted))
		}
	}

	// Stale-wait cleanup. By default an expired waiter is rejected;
	// GrantOnTimeout instead grants it without consuming a token, letting
	// the caller momentarily exceed the contracted rate.
	kept := l.queue[:0]
	for _, w := range l.queue {
		if now.Sub(w.enqueued) < l.waitTimeout {
			kept = append(kept, w)
			continue
		}
		if l.grantOnTimeout {
			w.ready <- nil
			l.metrics.RecordWaitTimeout(l.source, "granted")
			l.logger.Warn("stale waiter granted past the rate contract",
				zap.Duration("waited", now.Sub(w.enqueued)))
		} else {
			w.ready <- ErrWaitTimeout
			l.metrics.RecordWaitTimeout(l.source, "rejected")
			l.logger.Warn("stale waiter rejected",
				zap.Duration("waited", now.Sub(w.enqueued)))
		}
	}
	l.queue = kept
	l.metrics.SetPending(l.source, len(l.queue))
}

// refillLocked adds tokens for the time elapsed since lastRefill and
// advances lastRefill by whole refill intervals only, so fractional
// progress toward the next token is never lost. Caller holds l.mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.refillInterval {
		return
	}

	add := int(elapsed / l.refillInterval)
	l.tokens += add
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	// Equivalent to lastRefill + add*refillInterval, without overflow on
	// long idle stretches.
	l.lastRefill = now.Add(-(elapsed % l.refillInterval))
}

// removeLocked drops w from the queue, returning false if the drain loop
// already resolved it. Caller holds l.mu.
func (l *Limiter) removeLocked(w *waiter) bool {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			l.metrics.SetPending(l.source, len(l.queue))
			return true
		}
	}
	return false
}

// refund returns one token after a cancelled caller received a grant it
// can no longer use.
func (l *Limiter) refund() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens < l.capacity {
		l.tokens++
	}
}
