package evolution

import (
	"context"
	"math"
	"time"
)

// RemainingUnlimited is the sentinel Remaining returns when rate limiting is
// disabled.
const RemainingUnlimited = math.MaxInt

// RateLimiter applies per-key, per-category fixed-window admission control
// on top of a CounterStore. What happens on an exhausted window is decided
// by the configured policy: wait blocks until the window resets, throw
// returns a rate-limit error, skip rejects without incrementing.
type RateLimiter struct {
	cfg    RateLimitConfig
	store  CounterStore
	logger Logger
}

func NewRateLimiter(cfg RateLimitConfig, store CounterStore, logger Logger) *RateLimiter {
	if store == nil {
		store = NewCounterStore(cfg)
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if cfg.Limits == nil {
		cfg.Limits = defaultCategoryLimits()
	}
	if cfg.OnLimitReached == "" {
		cfg.OnLimitReached = PolicyWait
	}
	return &RateLimiter{cfg: cfg, store: store, logger: logger}
}

func (l *RateLimiter) limitFor(category string) CategoryLimit {
	if limit, ok := l.cfg.Limits[category]; ok {
		return limit
	}
	if limit, ok := l.cfg.Limits[CategoryDefault]; ok {
		return limit
	}
	return CategoryLimit{MaxAttempts: 60, DecaySeconds: 60}
}

func storageKey(key, category string) string {
	return key + ":" + category
}

// Attempt admits or rejects one operation for (key, category). With the wait
// policy it blocks for as long as the window needs; use AttemptWithin to
// bound the wait.
func (l *RateLimiter) Attempt(ctx context.Context, key, category string) (bool, error) {
	return l.attempt(ctx, key, category, 0)
}

// AttemptWithin is Attempt with a wait budget for the wait policy. It
// returns false once waiting any longer would exceed maxWait.
func (l *RateLimiter) AttemptWithin(ctx context.Context, key, category string, maxWait time.Duration) (bool, error) {
	return l.attempt(ctx, key, category, maxWait)
}

func (l *RateLimiter) attempt(ctx context.Context, key, category string, maxWait time.Duration) (bool, error) {
	if !l.cfg.Enabled {
		return true, nil
	}

	limit := l.limitFor(category)
	deadline := time.Time{}
	if maxWait > 0 {
		deadline = time.Now().Add(maxWait)
	}

	for {
		count, err := l.store.Get(ctx, storageKey(key, category))
		if err != nil {
			// A broken store must not take the gateway down with it;
			// admit and report.
			l.logger.Error("rate limiter store read failed, admitting", map[string]any{"key": key, "category": category, "error": err.Error()})
			return true, nil
		}

		if count < limit.MaxAttempts {
			if _, err := l.store.Increment(ctx, storageKey(key, category), time.Duration(limit.DecaySeconds)*time.Second); err != nil {
				l.logger.Error("rate limiter store increment failed, admitting", map[string]any{"key": key, "category": category, "error": err.Error()})
			}
			return true, nil
		}

		switch l.cfg.OnLimitReached {
		case PolicyThrow:
			return false, newRateLimitError(category, l.availableInSeconds(ctx, key, category))
		case PolicySkip:
			return false, nil
		default: // wait
			wait := l.AvailableIn(ctx, key, category)
			if wait <= 0 {
				wait = time.Duration(limit.DecaySeconds) * time.Second
			}
			if !deadline.IsZero() && time.Now().Add(wait).After(deadline) {
				return false, nil
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
			// Re-check; a concurrent consumer may have refilled the
			// window already.
		}
	}
}

// IsExceeded reports whether the window for (key, category) is exhausted.
func (l *RateLimiter) IsExceeded(ctx context.Context, key, category string) bool {
	if !l.cfg.Enabled {
		return false
	}
	count, err := l.store.Get(ctx, storageKey(key, category))
	if err != nil {
		return false
	}
	return count >= l.limitFor(category).MaxAttempts
}

// Remaining returns how many attempts are left in the current window, or
// RemainingUnlimited when rate limiting is disabled. It never goes negative.
func (l *RateLimiter) Remaining(ctx context.Context, key, category string) int {
	if !l.cfg.Enabled {
		return RemainingUnlimited
	}
	count, err := l.store.Get(ctx, storageKey(key, category))
	if err != nil {
		return RemainingUnlimited
	}
	remaining := l.limitFor(category).MaxAttempts - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AvailableIn returns the time until the window for (key, category) resets.
// Zero means no active window. When the store cannot introspect TTLs the
// full configured decay period is reported instead of a precise remainder;
// callers must tolerate the overstatement.
func (l *RateLimiter) AvailableIn(ctx context.Context, key, category string) time.Duration {
	if !l.cfg.Enabled {
		return 0
	}
	count, err := l.store.Get(ctx, storageKey(key, category))
	if err != nil || count == 0 {
		return 0
	}
	ttl, err := l.store.TTL(ctx, storageKey(key, category))
	if err != nil {
		return time.Duration(l.limitFor(category).DecaySeconds) * time.Second
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

func (l *RateLimiter) availableInSeconds(ctx context.Context, key, category string) int {
	return int(math.Ceil(l.AvailableIn(ctx, key, category).Seconds()))
}

// Clear resets the window for the given categories, or for every known
// category of the key when none are named.
func (l *RateLimiter) Clear(ctx context.Context, key string, categories ...string) error {
	if len(categories) == 0 {
		for category := range l.cfg.Limits {
			categories = append(categories, category)
		}
	}
	for _, category := range categories {
		if err := l.store.Reset(ctx, storageKey(key, category)); err != nil {
			return err
		}
	}
	return nil
}
