package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"dlqueue/pkg/config"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed now and consumes a slot if so
	Allow() bool
	// Wait blocks until a request is allowed or ctx is done
	Wait(ctx context.Context) error
	// Reset restores the initial state
	Reset()
}

// TokenBucket refills continuously at rate tokens per period, holding at
// most capacity tokens.
type TokenBucket struct {
	capacity float64
	tokens   float64
	perToken time.Duration
	last     time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewTokenBucket allows bursts of capacity and a sustained rate of
// perPeriod requests every period.
func NewTokenBucket(capacity, perPeriod int, period time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if perPeriod < 1 {
		perPeriod = 1
	}
	return &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		perToken: period / time.Duration(perPeriod),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		delay := time.Duration((1 - tb.tokens) * float64(tb.perToken))
		tb.mu.Unlock()
		if delay < time.Millisecond {
			delay = time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.capacity
	tb.last = tb.now()
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.last)
	if elapsed <= 0 || tb.perToken <= 0 {
		return
	}
	tb.tokens += float64(elapsed) / float64(tb.perToken)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now
}

// SlidingWindow allows at most maxRequests within any windowSize interval
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
}

func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.cleanOldRequests(now)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait blocks until the oldest request leaves the window
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for !sw.Allow() {
		sw.mu.Lock()
		delay := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			delay = sw.windowSize - time.Since(sw.requests[0])
		}
		sw.mu.Unlock()
		if delay < time.Millisecond {
			delay = time.Millisecond
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

func (sw *SlidingWindow) cleanOldRequests(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && sw.requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(sw.requests, sw.requests[i:])
		sw.requests = sw.requests[:len(sw.requests)-i]
	}
}

// HostLimiter keeps one limiter per host so a slow site does not throttle
// downloads from another.
type HostLimiter struct {
	newLimiter func() Limiter
	mu         sync.Mutex
	hosts      map[string]Limiter
}

// NewHostLimiter creates per-host limiters with newLimiter
func NewHostLimiter(newLimiter func() Limiter) *HostLimiter {
	return &HostLimiter{
		newLimiter: newLimiter,
		hosts:      make(map[string]Limiter),
	}
}

// FromConfig builds a HostLimiter from the rate_limit section
func FromConfig(cfg config.RateLimitConfig) *HostLimiter {
	if cfg.Strategy == config.StrategySlidingWindow {
		return NewHostLimiter(func() Limiter {
			return NewSlidingWindow(cfg.RequestsPerMinute, time.Minute)
		})
	}
	return NewHostLimiter(func() Limiter {
		return NewTokenBucket(cfg.BurstSize, cfg.RequestsPerMinute, time.Minute)
	})
}

// For returns the limiter for the host of rawURL
func (h *HostLimiter) For(rawURL string) Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.hosts[host]
	if !ok {
		l = h.newLimiter()
		h.hosts[host] = l
	}
	return l
}

// Wait blocks on the limiter of rawURL's host
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return h.For(rawURL).Wait(ctx)
}

// Hosts returns how many hosts have a limiter
func (h *HostLimiter) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hosts)
}
