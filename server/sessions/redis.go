package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PeladoCollado/cpuload/types"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "cpuload:sessions"

// RedisStore keeps session history in a capped Redis list, newest entry at the head.
type RedisStore struct {
	rdb redis.UniversalClient

	key  string
	size int
	// ttl is refreshed on every write so an idle history eventually disappears.
	ttl time.Duration
}

type RedisOption func(*RedisStore)

func WithRedisKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key = strings.TrimSpace(key); key != "" {
			s.key = key
		}
	}
}

func WithRedisSize(size int) RedisOption {
	return func(s *RedisStore) {
		if size > 0 {
			s.size = size
		}
	}
}

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:  rdb,
		key:  DefaultRedisKey,
		size: DefaultHistorySize,
		ttl:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, report types.SessionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode session report: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, int64(s.size-1))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record session %s: %w", report.ID, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]types.SessionReport, error) {
	stop := int64(s.size - 1)
	if limit > 0 && limit < s.size {
		stop = int64(limit - 1)
	}
	values, err := s.rdb.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}
	reports := make([]types.SessionReport, 0, len(values))
	for _, value := range values {
		var report types.SessionReport
		if err := json.Unmarshal([]byte(value), &report); err != nil {
			return nil, fmt.Errorf("decode session report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
