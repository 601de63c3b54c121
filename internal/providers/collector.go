// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/jeranaias/daypilot/internal/logging"
)

// Defaults for NewCollector.
const (
	DefaultTimeout  = 8 * time.Second
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// RetryPolicy bounds provider retries.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration // first delay; doubles per attempt
	MaxBackoff time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Retry runs fn up to p.Attempts times, sleeping between attempts, and
// stops early on success, on a permanent error or when ctx ends. It
// returns the number of attempts made.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return i - 1, lastErr
		}
		lastErr = fn(ctx)
		if lastErr == nil || IsPermanent(lastErr) || i == attempts {
			return i, lastErr
		}
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		case <-time.After(p.Delay(i)):
		}
	}
	return attempts, lastErr
}

// Collector runs providers concurrently and merges their results.
type Collector struct {
	providers []Provider
	timeout   time.Duration
	policy    RetryPolicy
	limiter   *rate.Limiter
	log       *logging.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithTimeout bounds each provider, across all of its attempts.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) { c.timeout = d }
}

// WithRetry sets the retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Collector) { c.policy = p }
}

// WithRateLimit caps outbound fetch attempts per second across providers.
// Zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Collector) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// NewCollector creates a Collector. Nil providers are skipped.
func NewCollector(ps []Provider, opts ...Option) *Collector {
	c := &Collector{
		timeout: DefaultTimeout,
		policy:  RetryPolicy{Attempts: DefaultAttempts, Backoff: DefaultBackoff, MaxBackoff: 2 * time.Second},
		log:     logging.NopLogger(),
	}
	for _, p := range ps {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the configured kinds.
func (c *Collector) Providers() []Kind {
	kinds := make([]Kind, len(c.providers))
	for i, p := range c.providers {
		kinds[i] = p.Kind()
	}
	return kinds
}

// Collect fetches every provider concurrently and returns once each has
// produced a payload or been marked unavailable. It never fails.
func (c *Collector) Collect(ctx context.Context, req Request) Set {
	var (
		mu  sync.Mutex
		out = make(Set, len(c.providers))
		wg  conc.WaitGroup
	)
	for _, p := range c.providers {
		p := p
		wg.Go(func() {
			entry := c.collectOne(ctx, p, req)
			mu.Lock()
			out[p.Kind()] = entry
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

func (c *Collector) collectOne(ctx context.Context, p Provider, req Request) Entry {
	kind := p.Kind()
	log := c.log.WithProvider(string(kind))
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload Payload
	attempts, err := Retry(ctx, c.policy, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		got, err := fetchBounded(ctx, p, req)
		if err != nil {
			log.Debug("PROVIDER_ATTEMPT_FAILED", "error", err)
			return err
		}
		payload = got
		return nil
	})

	if err == nil && payload == nil {
		err = Permanent(errors.New("provider returned no payload"))
	}
	if err != nil {
		u := &Unavailable{Kind: kind, Reason: reasonFor(err), Attempts: attempts, Err: err}
		log.Warn("PROVIDER_UNAVAILABLE", "reason", u.Reason, "attempts", attempts,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return Entry{Kind: kind, Unavailable: u}
	}
	log.Info("PROVIDER_OK", "attempts", attempts, "duration_ms", time.Since(start).Milliseconds())
	return Entry{Kind: kind, Payload: payload}
}

// fetchBounded calls p.Fetch but returns as soon as ctx ends, even if the
// provider ignores cancellation. A late result is discarded.
func fetchBounded(ctx context.Context, p Provider, req Request) (Payload, error) {
	type result struct {
		payload Payload
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: Permanent(fmt.Errorf("provider panic: %v", r))}
			}
		}()
		payload, err := p.Fetch(ctx, req)
		ch <- result{payload: payload, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.payload, r.err
	}
}
