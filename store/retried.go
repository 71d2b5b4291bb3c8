package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/retry"
)

// Retried decorates a KVStore so transient backend failures are absorbed
// by a retry executor. Missing keys are never retried.
type Retried struct {
	inner    core.KVStore
	executor *retry.Executor
}

func NewRetried(inner core.KVStore, executor *retry.Executor) *Retried {
	if executor == nil {
		policy := retry.Policy{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.2,
		}
		executor = retry.NewExecutor(policy, storageClassifier)
	}
	return &Retried{inner: inner, executor: executor}
}

// NewRetriedWithPolicy builds the executor from a caller-supplied policy
// while keeping the missing-key classification.
func NewRetriedWithPolicy(inner core.KVStore, policy retry.Policy, logger core.Logger) *Retried {
	executor := retry.NewExecutor(policy, storageClassifier)
	executor.Logger = logger
	return &Retried{inner: inner, executor: executor}
}

// storageClassifier retries transient wording but treats a missing key as
// final. On top of the generic hints it knows the SQL backends' transient
// failures: sqlite lock contention and postgres serialization conflicts.
func storageClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrKeyNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"database is locked",
		"database table is locked",
		"deadlock",
		"could not serialize access",
		"serialization failure",
		"too many connections",
		"bad connection",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return retry.DefaultClassifier(err)
}

func (r *Retried) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if r == nil || r.inner == nil {
		return fmt.Errorf("store: retried store is not configured")
	}
	_, err := r.executor.Do(ctx, name, func(ctx context.Context) (core.TransportResponse, error) {
		return core.TransportResponse{StatusCode: 200}, fn(ctx)
	})
	return err
}

func (r *Retried) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.do(ctx, "store.get", func(ctx context.Context) error {
		var getErr error
		value, getErr = r.inner.Get(ctx, key)
		return getErr
	})
	return value, err
}

func (r *Retried) Put(ctx context.Context, key string, value []byte) error {
	return r.do(ctx, "store.put", func(ctx context.Context) error {
		return r.inner.Put(ctx, key, value)
	})
}

func (r *Retried) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	var won bool
	err := r.do(ctx, "store.put_if_absent", func(ctx context.Context) error {
		var putErr error
		won, putErr = r.inner.PutIfAbsent(ctx, key, value)
		return putErr
	})
	return won, err
}

func (r *Retried) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "store.delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, key)
	})
}

// Keys delegates to the inner store when it supports prefix listing.
func (r *Retried) Keys(ctx context.Context, prefix string) ([]string, error) {
	if r == nil || r.inner == nil {
		return nil, fmt.Errorf("store: retried store is not configured")
	}
	lister, ok := r.inner.(core.KeyLister)
	if !ok {
		return nil, fmt.Errorf("store: inner store does not support key listing")
	}
	var keys []string
	err := r.do(ctx, "store.keys", func(ctx context.Context) error {
		var listErr error
		keys, listErr = lister.Keys(ctx, prefix)
		return listErr
	})
	return keys, err
}

var _ core.KVStore = (*Retried)(nil)
