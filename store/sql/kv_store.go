package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-vault-bridge/core"
)

// KVStore persists bridge state (claims, rate-limit windows, the audit
// ring, endpoint settings) in a single keyed table. PutIfAbsent leans on
// the unique key index so exactly one concurrent writer wins, regardless
// of which node it runs on.
type KVStore struct {
	db   *bun.DB
	repo repository.Repository[*kvRecord]
	now  func() time.Time
}

func NewKVStore(db *bun.DB) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*kvRecord](db, kvHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid kv repository wiring: %w", err)
		}
	}
	return &KVStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, core.ErrKeyNotFound
	}

	record := &kvRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrKeyNotFound
		}
		return nil, err
	}
	value := make([]byte, len(record.Value))
	copy(value, record.Value)
	return value, nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}

	now := s.now()
	record := s.newRecord(key, value, now)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *KVStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: key is required")
	}

	record := s.newRecord(key, value, s.now())
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("?TableAlias.key = ?", key).
		Exec(ctx)
	return err
}

// Keys lists stored keys with the given prefix.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: kv store is not configured")
	}
	var keys []string
	err := s.db.NewSelect().
		Model((*kvRecord)(nil)).
		Column("key").
		Where("?TableAlias.key LIKE ? ESCAPE '\\'", escapeLikePrefix(prefix)+"%").
		Scan(ctx, &keys)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func escapeLikePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(prefix)
}

func (s *KVStore) newRecord(key string, value []byte, now time.Time) *kvRecord {
	copied := make([]byte, len(value))
	copy(copied, value)
	return &kvRecord{
		ID:        uuid.NewString(),
		Key:       key,
		Value:     copied,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
