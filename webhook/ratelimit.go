package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-vault-bridge/core"
)

// RateLimitDecision is the outcome of one admission check.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// SlidingWindowLimiter enforces a per-source request ceiling over a rolling
// window, persisting state in the shared store so every node sees the same
// counters.
type SlidingWindowLimiter struct {
	store  core.KVStore
	max    int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(kv core.KVStore, max int, window time.Duration) *SlidingWindowLimiter {
	if max <= 0 {
		max = 50
	}
	if window <= 0 {
		window = time.Hour
	}
	return &SlidingWindowLimiter{
		store:  kv,
		max:    max,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow records one request for sourceID and reports whether it fits the
// window. A denied decision carries the timestamp at which the window
// resets.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, sourceID string) (RateLimitDecision, error) {
	if l == nil || l.store == nil {
		return RateLimitDecision{}, fmt.Errorf("webhook: rate limiter is not configured")
	}

	now := l.now()
	key := core.RateLimitKey(sourceID)

	window, err := l.load(ctx, key)
	if err != nil {
		return RateLimitDecision{}, err
	}

	if window.WindowStart.IsZero() || now.Sub(window.WindowStart) >= l.window {
		window = core.RateLimitWindow{WindowStart: now}
	}

	cutoff := now.Add(-l.window)
	pruned := window.Requests[:0]
	for _, ts := range window.Requests {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	window.Requests = pruned

	if len(window.Requests) >= l.max {
		return RateLimitDecision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   window.WindowStart.Add(l.window),
		}, nil
	}

	window.Requests = append(window.Requests, now)
	if err := l.save(ctx, key, window); err != nil {
		return RateLimitDecision{}, err
	}
	return RateLimitDecision{
		Allowed:   true,
		Remaining: l.max - len(window.Requests),
		ResetAt:   window.WindowStart.Add(l.window),
	}, nil
}

func (l *SlidingWindowLimiter) load(ctx context.Context, key string) (core.RateLimitWindow, error) {
	var window core.RateLimitWindow
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return window, nil
		}
		return window, fmt.Errorf("webhook: load rate limit window: %w", err)
	}
	if err := json.Unmarshal(raw, &window); err != nil {
		// Corrupt state resets the window rather than wedging the endpoint.
		return core.RateLimitWindow{}, nil
	}
	return window, nil
}

func (l *SlidingWindowLimiter) save(ctx context.Context, key string, window core.RateLimitWindow) error {
	raw, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("webhook: encode rate limit window: %w", err)
	}
	if err := l.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("webhook: persist rate limit window: %w", err)
	}
	return nil
}

// SourceID extracts the client identity used for rate-limit bucketing: the
// first hop of X-Forwarded-For when present, otherwise a shared bucket.
func SourceID(headers map[string]string) string {
	forwarded := headerValue(headers, "X-Forwarded-For")
	if forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	return "default"
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
