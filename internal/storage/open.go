package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Open constructs a Backend of the requested kind. memory ignores dataDir;
// bbolt and badger create dataDir if needed.
func Open(kind, dataDir string) (Backend, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return OpenBolt(filepath.Join(dataDir, "kv.bbolt"))
	case "badger":
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return OpenBadger(filepath.Join(dataDir, "badger"))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
}
