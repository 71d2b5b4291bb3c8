package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-vault-bridge/core"
)

const kvCacheKeyPrefix = "go-vault-bridge::kv::v1"

// CachedKVStore layers a read-through cache over a KVStore. Writes and
// deletes invalidate the cached entry before returning so reads never see
// a stale claim or rate-limit window.
type CachedKVStore struct {
	base  core.KVStore
	cache repositorycache.CacheService
}

func NewCachedKVStore(base core.KVStore, cacheService repositorycache.CacheService) (*CachedKVStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base kv store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: kv cache service is required")
	}
	return &CachedKVStore{base: base, cache: cacheService}, nil
}

// KVCacheKey returns the deterministic cache key for a storage key:
// go-vault-bridge::kv::v1::<key> with the key segment URL-path escaped.
func KVCacheKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: key is required")
	}
	return kvCacheKeyPrefix + "::" + url.PathEscape(key), nil
}

func (s *CachedKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	cacheKey, err := KVCacheKey(key)
	if err != nil {
		return nil, err
	}
	value, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]byte, error) {
		fetched, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneBytes(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneBytes(value), nil
}

func (s *CachedKVStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	cacheKey, err := KVCacheKey(key)
	if err != nil {
		return err
	}
	if err := s.base.Put(ctx, key, value); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedKVStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	cacheKey, err := KVCacheKey(key)
	if err != nil {
		return false, err
	}
	won, err := s.base.PutIfAbsent(ctx, key, value)
	if err != nil {
		return false, err
	}
	if won {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return won, err
		}
	}
	return won, nil
}

func (s *CachedKVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	cacheKey, err := KVCacheKey(key)
	if err != nil {
		return err
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

// Keys bypasses the cache and delegates to the base store when it supports
// prefix listing.
func (s *CachedKVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	lister, ok := s.base.(core.KeyLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base store does not support key listing")
	}
	return lister.Keys(ctx, prefix)
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied
}
