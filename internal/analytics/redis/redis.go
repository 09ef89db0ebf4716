// Package redis persists analytics events in Redis: one value per event plus
// a sorted-set index keyed by timestamp for range scans.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/labiium/routiium/internal/analytics"
)

const (
	eventNamespace = "routiium:analytics:event:"
	timeIndexKey   = "routiium:analytics:by_ts"
)

// Store implements analytics.Store backed by Redis.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects to the Redis URL; ttl > 0 expires event values (the index is
// trimmed on query).
func New(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, ttl: ttl}, nil
}

func (s *Store) Append(ctx context.Context, ev *analytics.Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventNamespace+ev.ID, val, s.ttl)
	pipe.ZAdd(ctx, timeIndexKey, &goredis.Z{Score: float64(ev.Timestamp), Member: ev.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Query(ctx context.Context, start, end int64, limit int) ([]*analytics.Event, error) {
	opt := &goredis.ZRangeBy{
		Min: fmt.Sprintf("%d", start),
		Max: fmt.Sprintf("%d", end),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, timeIndexKey, opt).Result()
	if err != nil {
		return nil, err
	}
	var out []*analytics.Event
	var stale []any
	for _, id := range ids {
		val, err := s.client.Get(ctx, eventNamespace+id).Bytes()
		if err == goredis.Nil {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var ev analytics.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			continue
		}
		out = append(out, &ev)
	}
	if len(stale) > 0 {
		// TTL-expired values leave dangling index members; trim them here.
		_ = s.client.ZRem(ctx, timeIndexKey, stale...).Err()
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, timeIndexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, eventNamespace+id)
	}
	pipe.Del(ctx, timeIndexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Stats(ctx context.Context) (analytics.StoreStats, error) {
	count, err := s.client.ZCard(ctx, timeIndexKey).Result()
	if err != nil {
		return analytics.StoreStats{}, err
	}
	return analytics.StoreStats{Backend: "redis", TotalEvents: int(count)}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
