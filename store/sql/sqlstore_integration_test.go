package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-vault-bridge/core"
	bridgemigrations "github.com/goliatone/go-vault-bridge/migrations"
	sqlstore "github.com/goliatone/go-vault-bridge/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-vault-bridge-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:vault-bridge-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = bridgemigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != bridgemigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, bridgemigrations.WithValidationTargets(bridgemigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestKVStore(t *testing.T) (*sqlstore.KVStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	kv, err := sqlstore.NewKVStoreFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new kv store: %v", err)
	}
	return kv, cleanup
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"bridge_kv_entries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "bridge_kv_entries" {
		t.Fatalf("expected bridge_kv_entries table, got %q", tableName)
	}
}

func TestKVStore_PutGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, cleanup := newTestKVStore(t)
	defer cleanup()

	if _, err := kv.Get(ctx, "webhook-processed-req-1"); !errors.Is(err, core.ErrKeyNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	if err := kv.Put(ctx, "webhook-processed-req-1", []byte(`{"issue_key":"SEC-1"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, err := kv.Get(ctx, "webhook-processed-req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"issue_key":"SEC-1"}` {
		t.Fatalf("unexpected value %s", value)
	}

	if err := kv.Put(ctx, "webhook-processed-req-1", []byte(`{"issue_key":"SEC-2"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = kv.Get(ctx, "webhook-processed-req-1")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(value) != `{"issue_key":"SEC-2"}` {
		t.Fatalf("overwrite must replace the value, got %s", value)
	}

	if err := kv.Delete(ctx, "webhook-processed-req-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := kv.Get(ctx, "webhook-processed-req-1"); !errors.Is(err, core.ErrKeyNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestKVStore_PutIfAbsentWinsOnce(t *testing.T) {
	ctx := context.Background()
	kv, cleanup := newTestKVStore(t)
	defer cleanup()

	won, err := kv.PutIfAbsent(ctx, "claim", []byte("first"))
	if err != nil {
		t.Fatalf("first put-if-absent: %v", err)
	}
	if !won {
		t.Fatalf("first writer must win")
	}

	won, err = kv.PutIfAbsent(ctx, "claim", []byte("second"))
	if err != nil {
		t.Fatalf("second put-if-absent: %v", err)
	}
	if won {
		t.Fatalf("second writer must lose")
	}

	value, err := kv.Get(ctx, "claim")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "first" {
		t.Fatalf("losing write must not overwrite, got %s", value)
	}
}

func TestKVStore_PutIfAbsentConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	kv, cleanup := newTestKVStore(t)
	defer cleanup()

	const writers = 8
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, err := kv.PutIfAbsent(ctx, "claim", []byte(fmt.Sprintf("writer-%d", n)))
			if err != nil {
				t.Errorf("put-if-absent: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one writer must win, got %d", wins)
	}
}
