package kvstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/cyclick/cyclick/internal/database"
)

// Backend names a Store implementation.
type Backend string

// Supported backends.
const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendBadger   Backend = "badger"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend Backend

	// Prefix namespaces keys in shared backends (Redis, Badger).
	Prefix string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// BadgerPath is the Badger data directory. Empty means in-memory.
	BadgerPath string

	Database database.Config
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))

	return Config{
		Backend:       Backend(getEnvOrDefault("KV_BACKEND", string(BackendMemory))),
		Prefix:        getEnvOrDefault("KV_PREFIX", "cyclick:"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		BadgerPath:    os.Getenv("BADGER_PATH"),
		Database:      database.ConfigFromEnv(),
	}
}

// Open creates the configured Store. The returned close function releases
// the underlying connections and is never nil.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), noop, nil

	case BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("ensure kv schema: %w", err)
		}
		return store, pool.Close, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(client, cfg.Prefix), func() { _ = client.Close() }, nil

	case BackendBadger:
		db, err := OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, noop, err
		}
		return NewBadgerStore(db, cfg.Prefix), func() { _ = db.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
