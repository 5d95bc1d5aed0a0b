package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/store"
)

// New builds the snapshotter named by cfg.Backend. A redis snapshotter owns a
// connection and implements io.Closer.
func New(ctx context.Context, cfg config.StoreConfig) (store.Snapshotter, error) {
	switch cfg.Backend {
	case "file":
		return NewFile(cfg.Path), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("snapshot: unsupported backend %q", cfg.Backend)
	}
}

func encode(snap *store.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(b []byte) (*store.Snapshot, error) {
	var snap store.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
