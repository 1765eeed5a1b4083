package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures Open
type Options struct {
	Backend   string // sqlite, file, redis, memory
	DB        *sql.DB
	FilePath  string
	RedisAddr string
	RedisDB   int
	Prefix    string
}

// Open builds the Store selected by opts.Backend. The returned closer
// releases backend resources (a no-op for sqlite, whose DB the caller owns).
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, io.Closer, error) {
	switch opts.Backend {
	case "sqlite":
		if opts.DB == nil {
			return nil, nil, fmt.Errorf("sqlite backend requires a database")
		}
		logger.Info("Using sqlite key-value store")
		return NewSQLiteStore(opts.DB), noopCloser{}, nil
	case "file":
		s, err := OpenFileStore(opts.FilePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file key-value store", zap.String("path", opts.FilePath))
		return s, noopCloser{}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		logger.Info("Using redis key-value store",
			zap.String("addr", opts.RedisAddr),
			zap.String("prefix", opts.Prefix),
		)
		return NewRedisStore(client, opts.Prefix), client, nil
	case "memory":
		logger.Warn("Using in-memory key-value store; pending mutations will not survive a restart")
		return NewMemoryStore(), noopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
