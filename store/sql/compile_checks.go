package sqlstore

import "github.com/goliatone/go-vault-bridge/core"

var (
	_ core.KVStore = (*KVStore)(nil)
	_ core.KVStore = (*CachedKVStore)(nil)
)
