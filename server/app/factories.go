package app

import (
	"context"
	"fmt"
	"time"

	"github.com/PeladoCollado/cpuload/server/sessions"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 2 * time.Second

// SessionStoreFactory builds the session history store. The returned close function
// releases any connection the store holds.
type SessionStoreFactory interface {
	NewSessionStore(ctx context.Context, cfg Config) (sessions.Store, func() error, error)
}

type SessionStoreFactoryFunc func(ctx context.Context, cfg Config) (sessions.Store, func() error, error)

func (f SessionStoreFactoryFunc) NewSessionStore(ctx context.Context, cfg Config) (sessions.Store, func() error, error) {
	return f(ctx, cfg)
}

func NewBuiltInSessionStore(ctx context.Context, cfg Config) (sessions.Store, func() error, error) {
	switch cfg.HistoryStore {
	case HistoryStoreMemory:
		return sessions.NewMemoryStore(cfg.HistorySize), noopClose, nil
	case HistoryStoreRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis-addr is required when history-store=redis")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		store := sessions.NewRedisStore(rdb,
			sessions.WithRedisKey(cfg.RedisKey),
			sessions.WithRedisSize(cfg.HistorySize),
			sessions.WithRedisTTL(cfg.RedisTTL),
		)
		return store, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history-store %q", cfg.HistoryStore)
	}
}

func sessionStoreFactoryOrDefault(factory SessionStoreFactory) SessionStoreFactory {
	if factory != nil {
		return factory
	}
	return SessionStoreFactoryFunc(NewBuiltInSessionStore)
}

func noopClose() error {
	return nil
}
