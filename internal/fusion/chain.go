package fusion

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/i474232898/environmental-fusion/internal/observability"
)

// BackoffConfig controls the jittered exponential delay between attempts on the same provider.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff is used when a chain is built without an explicit backoff.
var DefaultBackoff = BackoffConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

type chainMember[Q, R any] struct {
	provider Provider[Q, R]
	cfg      ProviderConfig
}

// FallbackChain tries the providers of one logical need in priority order.
// A provider is retried with backoff on network and rate-limit failures until its
// attempt quota is spent; a timed-out or malformed attempt advances immediately.
type FallbackChain[Q, R any] struct {
	need     string
	members  []chainMember[Q, R]
	backoff  BackoffConfig
	degraded func(Q) R
	jitter   func(time.Duration) time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewFallbackChain creates an empty chain for the named need.
func NewFallbackChain[Q, R any](need string, logger *slog.Logger, metrics *observability.Metrics) *FallbackChain[Q, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &FallbackChain[Q, R]{
		need:    need,
		backoff: DefaultBackoff,
		jitter:  randomJitter,
		logger:  logger.With("need", need),
		metrics: metrics,
	}
}

// Add registers a provider. Members are kept ordered by ascending Priority, ties in insertion order.
func (c *FallbackChain[Q, R]) Add(p Provider[Q, R], cfg ProviderConfig) *FallbackChain[Q, R] {
	if cfg.ID == "" {
		cfg.ID = p.ID()
	}
	c.members = append(c.members, chainMember[Q, R]{provider: p, cfg: cfg})
	slices.SortStableFunc(c.members, func(a, b chainMember[Q, R]) int {
		return cmp.Compare(a.cfg.Priority, b.cfg.Priority)
	})
	return c
}

// WithBackoff overrides the retry delay configuration.
func (c *FallbackChain[Q, R]) WithBackoff(b BackoffConfig) *FallbackChain[Q, R] {
	c.backoff = b
	return c
}

// WithDegradedDefault sets the value returned when every provider fails.
// Without it, exhaustion surfaces ErrProviderUnavailable.
func (c *FallbackChain[Q, R]) WithDegradedDefault(fn func(Q) R) *FallbackChain[Q, R] {
	c.degraded = fn
	return c
}

// Need returns the logical need served by the chain.
func (c *FallbackChain[Q, R]) Need() string { return c.need }

// ProviderIDs lists member ids in attempt order.
func (c *FallbackChain[Q, R]) ProviderIDs() []string {
	ids := make([]string, len(c.members))
	for i, m := range c.members {
		ids[i] = m.provider.ID()
	}
	return ids
}

// Resolve returns the first successful result together with the id of the provider that produced it.
func (c *FallbackChain[Q, R]) Resolve(ctx context.Context, q Q) (R, string, error) {
	var zero R
	failures := make([]error, 0, len(c.members))

	for _, m := range c.members {
		res, err := c.tryProvider(ctx, m, q)
		if err == nil {
			c.metrics.ChainResolutions.WithLabelValues(c.need, "resolved").Inc()
			return res, m.provider.ID(), nil
		}
		if ctx.Err() != nil {
			c.metrics.ChainResolutions.WithLabelValues(c.need, "canceled").Inc()
			return zero, "", canceled(ctx)
		}
		failures = append(failures, err)
		c.logger.InfoContext(ctx, "advancing to next provider", "provider", m.provider.ID(), "error", err)
	}

	if ctx.Err() != nil {
		c.metrics.ChainResolutions.WithLabelValues(c.need, "canceled").Inc()
		return zero, "", canceled(ctx)
	}

	if c.degraded != nil {
		c.logger.WarnContext(ctx, "all providers exhausted; serving degraded default",
			"providers", len(c.members),
			"error", errors.Join(failures...),
		)
		c.metrics.ChainResolutions.WithLabelValues(c.need, "degraded").Inc()
		return c.degraded(q), DegradedSourceID, nil
	}

	c.logger.ErrorContext(ctx, "all providers exhausted", "providers", len(c.members))
	c.metrics.ChainResolutions.WithLabelValues(c.need, "exhausted").Inc()
	return zero, "", &ProviderUnavailableError{Need: c.need, Failures: failures}
}

// tryProvider spends one member's attempt quota.
func (c *FallbackChain[Q, R]) tryProvider(ctx context.Context, m chainMember[Q, R], q Q) (R, error) {
	var zero R
	attempts := max(1, m.cfg.MaxRetries)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !sleepWithContext(ctx, c.delay(attempt-1)) {
			return zero, canceled(ctx)
		}

		res, err, timedOut := c.attempt(ctx, m, q)
		if err == nil {
			return res, nil
		}
		lastErr = err

		c.logger.WarnContext(ctx, "provider attempt failed",
			"provider", m.provider.ID(),
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)

		if ctx.Err() != nil {
			return zero, canceled(ctx)
		}
		if timedOut || !IsRetryable(err) {
			break
		}
	}
	return zero, lastErr
}

type attemptResult[R any] struct {
	res R
	err error
}

// attempt performs one bounded Fetch. The bound holds even for providers that ignore ctx.
func (c *FallbackChain[Q, R]) attempt(ctx context.Context, m chainMember[Q, R], q Q) (R, error, bool) {
	var zero R
	id := m.provider.ID()

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.cfg.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan attemptResult[R], 1)
	go func() {
		res, err := m.provider.Fetch(attemptCtx, q)
		done <- attemptResult[R]{res: res, err: err}
	}()

	var out attemptResult[R]
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		out = attemptResult[R]{err: attemptCtx.Err()}
	}
	c.metrics.ProviderDuration.WithLabelValues(c.need, id).Observe(time.Since(start).Seconds())

	if out.err == nil {
		c.metrics.ProviderAttempts.WithLabelValues(c.need, id, "success").Inc()
		return out.res, nil, false
	}

	if ctx.Err() != nil {
		c.metrics.ProviderAttempts.WithLabelValues(c.need, id, "canceled").Inc()
		return zero, canceled(ctx), false
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		c.metrics.ProviderAttempts.WithLabelValues(c.need, id, "timeout").Inc()
		return zero, &ProviderError{
			Provider: id,
			Err:      fmt.Errorf("%w: attempt timed out after %s", ErrNetwork, m.cfg.Timeout),
		}, true
	}

	err := out.err
	var pe *ProviderError
	var me *MalformedResponseError
	if !errors.As(err, &pe) && !errors.As(err, &me) {
		err = &ProviderError{Provider: id, Err: err}
	}
	c.metrics.ProviderAttempts.WithLabelValues(c.need, id, outcomeLabel(err)).Inc()
	return zero, err, false
}

func (c *FallbackChain[Q, R]) delay(retry int) time.Duration {
	d := c.backoff.InitialInterval
	for i := 1; i < retry; i++ {
		d *= 2
		if c.backoff.MaxInterval > 0 && d >= c.backoff.MaxInterval {
			d = c.backoff.MaxInterval
			break
		}
	}
	if c.backoff.MaxInterval > 0 && d > c.backoff.MaxInterval {
		d = c.backoff.MaxInterval
	}
	half := d / 2
	return half + c.jitter(d-half)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

func randomJitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(n)))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
