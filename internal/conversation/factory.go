package conversation

import (
	"context"
	"fmt"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	File     string // file backend: JSON document path
	BoltPath string
	RedisURL string
	Options  Options
}

// New builds the configured store. db is only used by the sqlite backend.
func New(ctx context.Context, cfg Config, db ConversationDB) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		if cfg.File == "" {
			return nil, fmt.Errorf("conversation file backend needs a path")
		}
		return NewFileStore(cfg.File, cfg.Options), nil
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("conversation sqlite backend needs an open database")
		}
		return NewSQLStore(db, cfg.Options), nil
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("conversation redis backend needs a url")
		}
		return NewRedisStore(ctx, cfg.RedisURL, cfg.Options)
	case BackendBolt:
		return OpenBoltStore(cfg.BoltPath, cfg.Options)
	case BackendMemory:
		return NewMemoryStore(cfg.Options), nil
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}
