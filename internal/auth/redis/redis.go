// Package redis persists API keys in a shared Redis instance, for
// multi-replica deployments that disable the in-process cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/labiium/routiium/internal/auth"
)

const keyNamespace = "routiium:keys:"

// Store implements auth.Store backed by Redis.
type Store struct {
	client *goredis.Client
}

// New connects to the Redis URL and verifies reachability.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Put(ctx context.Context, rec *auth.Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	return s.client.Set(ctx, keyNamespace+rec.ID, val, 0).Err()
}

func (s *Store) Get(ctx context.Context, id string) (*auth.Record, error) {
	val, err := s.client.Get(ctx, keyNamespace+id).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec auth.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode key record: %w", err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]*auth.Record, error) {
	var out []*auth.Record
	iter := s.client.Scan(ctx, 0, keyNamespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec auth.Record
		if err := json.Unmarshal(val, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range records {
		expired := rec.ExpiresAt != nil && !rec.ExpiresAt.After(cutoff)
		revoked := rec.RevokedAt != nil && !rec.RevokedAt.After(cutoff)
		if !expired && !revoked {
			continue
		}
		n, err := s.client.Del(ctx, keyNamespace+rec.ID).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
