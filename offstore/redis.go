// Copyright 2026 Candlewallet Authors
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an alternative Store backend for deployments where the
// foreground and background contexts run as separate processes sharing a
// store over the network rather than a local file.
//
// Layout per partition:
//
//	<prefix>:<partition>       hash   key -> value
//	<prefix>:<partition>:order zset   key scored by insertion sequence
//	<prefix>:<partition>:seq   string monotonic sequence counter
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing redis client. prefix namespaces all keys;
// "offsync" is used when empty.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "offsync"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) hashKey(partition string) string {
	return s.prefix + ":" + partition
}

func (s *RedisStore) orderKey(partition string) string {
	return s.prefix + ":" + partition + ":order"
}

func (s *RedisStore) seqKey(partition string) string {
	return s.prefix + ":" + partition + ":seq"
}

func (s *RedisStore) Put(ctx context.Context, partition, key string, value []byte) error {
	seq, err := s.rdb.Incr(ctx, s.seqKey(partition)).Result()
	if err != nil {
		return unavailable("put", partition, key, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// NX keeps the original insertion position on overwrite.
		pipe.ZAddNX(ctx, s.orderKey(partition), redis.Z{Score: float64(seq), Member: key})
		pipe.HSet(ctx, s.hashKey(partition), key, value)
		return nil
	})
	if err != nil {
		return unavailable("put", partition, key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, partition, key string) ([]byte, error) {
	value, err := s.rdb.HGet(ctx, s.hashKey(partition), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s/%s: %w", partition, key, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", partition, key, err)
	}
	return value, nil
}

func (s *RedisStore) Delete(ctx context.Context, partition, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey(partition), key)
		pipe.ZRem(ctx, s.orderKey(partition), key)
		return nil
	})
	if err != nil {
		return unavailable("delete", partition, key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, partition string) ([]Record, error) {
	keys, err := s.rdb.ZRange(ctx, s.orderKey(partition), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list", partition, "", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.rdb.HMGet(ctx, s.hashKey(partition), keys...).Result()
	if err != nil {
		return nil, unavailable("list", partition, "", err)
	}

	records := make([]Record, 0, len(keys))
	for i, key := range keys {
		// A nil value means the hash entry vanished between ZRANGE and
		// HMGET (concurrent delete); skip it.
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		records = append(records, Record{Key: key, Value: []byte(raw)})
	}
	return records, nil
}

func (s *RedisStore) Count(ctx context.Context, partition string) (int, error) {
	n, err := s.rdb.HLen(ctx, s.hashKey(partition)).Result()
	if err != nil {
		return 0, unavailable("count", partition, "", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
