package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// NewKVStoreFromPersistence builds the SQL KV store from a persistence
// client.
func NewKVStoreFromPersistence(client *persistence.Client) (*KVStore, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	db := client.DB()
	if db == nil {
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	}
	return NewKVStore(db)
}

// NewKVStoreFromDB builds the SQL KV store directly from a bun DB.
func NewKVStoreFromDB(db *bun.DB) (*KVStore, error) {
	return NewKVStore(db)
}
