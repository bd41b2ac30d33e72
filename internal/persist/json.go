package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// LoadJSON decodes the value under key into target. A missing, unreadable, or
// corrupt value leaves target untouched and reports false.
func LoadJSON(store KV, key string, target any, logger pslog.Logger) bool {
	if store == nil {
		return false
	}
	data, ok, err := store.Load(key)
	if err != nil || !ok {
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		if logger != nil {
			logger.Warn("state decode failed", "key", key, "err", err)
		}
		return false
	}
	return true
}

// SaveJSON encodes value and stores it under key. Failures are logged and returned.
func SaveJSON(store KV, key string, value any, logger pslog.Logger) error {
	if store == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		if logger != nil {
			logger.Warn("state encode failed", "key", key, "err", err)
		}
		return err
	}
	return store.Save(key, data)
}

// Open constructs the store selected by backend.
func Open(backend, dir string, logger pslog.Logger) (KV, error) {
	switch backend {
	case "", schema.StateBackendFile:
		return NewFileStoreWithLogger(dir, logger)
	case schema.StateBackendSQLite:
		return OpenSQLite(filepath.Join(dir, "console.db"), logger)
	case schema.StateBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported state backend %q", backend)
	}
}

// Close closes the store when it holds resources.
func Close(store KV) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
