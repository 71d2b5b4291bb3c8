package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-vault-bridge/core"
)

// Policy tunes one executor instance. Storage and tracker callers each
// carry their own instance; the algorithm is shared.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterFactor      float64
	RetryableStatuses []int
}

// DefaultPolicy matches the tracker REST tuning: 3 retries, 1s initial,
// 30s cap, doubling, 20% jitter, retry on 429/503.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2,
		JitterFactor:      0.2,
		RetryableStatuses: []int{429, 503},
	}
}

func (p Policy) retryable(status int) bool {
	statuses := p.RetryableStatuses
	if len(statuses) == 0 {
		statuses = []int{429, 503}
	}
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func (p Policy) maxRetries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

func (p Policy) initialDelay() time.Duration {
	if p.InitialDelay <= 0 {
		return time.Second
	}
	return p.InitialDelay
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return 30 * time.Second
	}
	return p.MaxDelay
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 2
	}
	return p.Multiplier
}

// Operation is any call that yields a status-bearing response or a
// transport-level failure.
type Operation func(ctx context.Context) (core.TransportResponse, error)

// Classifier reports whether a thrown failure is worth retrying.
type Classifier func(err error) bool

// DefaultClassifier matches rate-limit and transient-unavailability wording.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"rate limit",
		"throttl",
		"quota",
		"too many requests",
		"unavailable",
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"temporar",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// AlwaysTransient treats every thrown failure as retryable up to budget.
// Callers that route through a transport adapter use it so network-level
// failures get the full budget.
func AlwaysTransient(err error) bool {
	return err != nil
}

// Executor runs operations with capped exponential backoff and jitter,
// honoring Retry-After hints. Exhaustion behavior is asymmetric: retryable
// HTTP statuses return the last response for the caller to inspect, thrown
// failures re-raise.
type Executor struct {
	Policy   Policy
	Classify Classifier
	Logger   core.Logger
	Sleep    func(ctx context.Context, d time.Duration) error
	Rand     func() float64
}

func NewExecutor(policy Policy, classify Classifier) *Executor {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Executor{
		Policy:   policy,
		Classify: classify,
		Sleep:    sleepContext,
		Rand:     rand.Float64,
	}
}

// Do runs op, retrying transient failures until the budget is spent. The
// operation name only feeds error context and logs.
func (e *Executor) Do(ctx context.Context, name string, op Operation) (core.TransportResponse, error) {
	if e == nil || op == nil {
		return core.TransportResponse{}, fmt.Errorf("retry: executor requires an operation")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "operation"
	}

	classify := e.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	attempts := e.Policy.maxRetries() + 1
	var lastRes core.TransportResponse
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			if !e.Policy.retryable(res.StatusCode) {
				return res, nil
			}
			lastRes = res
			lastErr = nil
			if attempt == attempts {
				// Exhausted on a retryable status: hand the response back
				// as-is so the caller can inspect and surface it.
				return lastRes, nil
			}
			delay := e.nextDelay(attempt, retryAfterHint(res.Headers, e.now()))
			e.logRetry(name, attempt, res.StatusCode, delay, nil)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return lastRes, sleepErr
			}
			continue
		}

		lastErr = err
		if !classify(err) {
			return core.TransportResponse{}, err
		}
		if attempt == attempts {
			return core.TransportResponse{}, lastErr
		}
		delay := e.nextDelay(attempt, hint{})
		e.logRetry(name, attempt, 0, delay, err)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return core.TransportResponse{}, sleepErr
		}
	}
	if lastErr != nil {
		return core.TransportResponse{}, lastErr
	}
	return lastRes, nil
}

type hint struct {
	delay time.Duration
	ok    bool
}

func (e *Executor) nextDelay(attempt int, h hint) time.Duration {
	policy := e.Policy
	var delay time.Duration
	if h.ok {
		delay = h.delay
	} else {
		backoff := float64(policy.initialDelay()) * math.Pow(policy.multiplier(), float64(attempt-1))
		delay = time.Duration(backoff)
		if delay > policy.maxDelay() {
			delay = policy.maxDelay()
		}
	}
	delay += e.jitter(delay)
	// Server hints can be arbitrarily large; keep a safety ceiling.
	if ceiling := 2 * policy.maxDelay(); delay > ceiling {
		delay = ceiling
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (e *Executor) jitter(delay time.Duration) time.Duration {
	factor := e.Policy.JitterFactor
	if factor <= 0 || delay <= 0 {
		return 0
	}
	random := e.Rand
	if random == nil {
		random = rand.Float64
	}
	return time.Duration(random() * factor * float64(delay))
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	sleeper := e.Sleep
	if sleeper == nil {
		sleeper = sleepContext
	}
	return sleeper(ctx, d)
}

func (e *Executor) now() time.Time {
	return time.Now().UTC()
}

func (e *Executor) logRetry(name string, attempt int, status int, delay time.Duration, err error) {
	if e == nil || e.Logger == nil {
		return
	}
	args := []any{
		"operation", name,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	}
	if status != 0 {
		args = append(args, "status_code", status)
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	e.Logger.Debug("retrying transient failure", args...)
}

func retryAfterHint(headers map[string]string, now time.Time) hint {
	raw := headerValue(headers, "retry-after")
	if raw == "" {
		return hint{}
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return hint{}
		}
		return hint{delay: time.Duration(seconds) * time.Second, ok: true}
	}
	if retryAt, err := httpDate(raw); err == nil && retryAt.After(now) {
		return hint{delay: retryAt.Sub(now), ok: true}
	}
	return hint{}
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("retry: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("retry: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
