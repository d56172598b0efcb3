// Package redisstore persists job and watch snapshots in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "conductor:snapshot:"

// Store is a SnapshotStore on Redis. Each snapshot is a string key; a per-kind set indexes
// the IDs so List does not need SCAN.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ core.SnapshotStore = (*Store)(nil)

// New creates a Store. An empty prefix uses the default; ttl <= 0 keeps snapshots until deleted.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(kind model.SubjectKind, id string) string {
	return s.prefix + string(kind) + ":" + id
}

func (s *Store) indexKey(kind model.SubjectKind) string {
	return s.prefix + string(kind) + ":_index"
}

func (s *Store) Put(ctx context.Context, kind model.SubjectKind, id string, data []byte) error {
	if id == "" {
		return errors.New("snapshot ID cannot be empty")
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(kind, id), data, s.ttl)
		p.SAdd(ctx, s.indexKey(kind), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put snapshot: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind model.SubjectKind, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundf("%s snapshot %s not found", kind, id)
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

// List returns every indexed snapshot of kind. Index entries whose key expired are
// removed as they are found.
func (s *Store) List(ctx context.Context, kind model.SubjectKind) ([]core.Snapshot, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list snapshots: %w", err)
	}
	if len(ids) == 0 {
		return []core.Snapshot{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(kind, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget snapshots: %w", err)
	}

	out := make([]core.Snapshot, 0, len(ids))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, core.Snapshot{ID: ids[i], Data: []byte(str)})
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(kind), stale...).Err(); err != nil {
			return out, fmt.Errorf("redis prune snapshot index: %w", err)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, kind model.SubjectKind, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(kind, id))
		p.SRem(ctx, s.indexKey(kind), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete snapshot: %w", err)
	}
	return nil
}
