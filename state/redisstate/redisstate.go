/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package redisstate is the production state.Substrate backend. It
// implements sliding windows as Redis sorted sets (score = event unix
// nanoseconds, member = a small encoded label+nonce so repeat labels at
// the same instant don't collide), TTL sets as Redis keys with native
// expiry, and the generic KV store directly on GET/SET/DEL, with CAS
// via WATCH/MULTI and the spec's retry cap of 3 (§5).
package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/state"
)

const maxCASRetries = 3

// Substrate is the Redis-backed state.Substrate implementation.
type Substrate struct {
	rdb *redis.Client
	lg  *logx.Logger
}

// New builds a Redis-backed substrate from an already-configured
// client, so callers own TLS/auth/cluster topology concerns.
func New(rdb *redis.Client, lg *logx.Logger) *Substrate {
	return &Substrate{rdb: rdb, lg: lg}
}

func (s *Substrate) Windows() state.WindowStore { return windowStore{s.rdb} }
func (s *Substrate) KV() state.KVStore          { return kvStore{s.rdb, s.lg} }
func (s *Substrate) TTL() state.TTLSet          { return ttlSet{s.rdb} }

// --- windows: Redis ZSET keyed by the window key, score = UnixNano ---

type windowStore struct{ rdb *redis.Client }

var memberSeq uint64

func member(e state.WindowEntry) string {
	return fmt.Sprintf("%d|%d|%s", e.At.UnixNano(), atomic.AddUint64(&memberSeq, 1), e.Label)
}

func decode(z redis.Z) state.WindowEntry {
	s, _ := z.Member.(string)
	parts := strings.SplitN(s, "|", 3)
	nsec, _ := strconv.ParseInt(parts[0], 10, 64)
	label := ""
	if len(parts) == 3 {
		label = parts[2]
	}
	return state.WindowEntry{At: time.Unix(0, nsec), Label: label}
}

func (w windowStore) Append(ctx context.Context, key string, e state.WindowEntry, ttl time.Duration, cap int) ([]state.WindowEntry, error) {
	cutoff := e.At.Add(-ttl).UnixNano()
	pipe := w.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.At.UnixNano()), Member: member(e)})
	if cap > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-cap-1))
	}
	pipe.Expire(ctx, key, ttl+time.Second)
	res := pipe.ZRangeWithScores(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstate: append %s: %w", key, err)
	}
	zs, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("redisstate: read window %s: %w", key, err)
	}
	out := make([]state.WindowEntry, len(zs))
	for i, z := range zs {
		out[i] = decode(z)
	}
	return out, nil
}

func (w windowStore) Get(ctx context.Context, key string, ttl time.Duration) ([]state.WindowEntry, error) {
	cutoff := time.Now().Add(-ttl).UnixNano()
	if err := w.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff)).Err(); err != nil {
		return nil, fmt.Errorf("redisstate: evict %s: %w", key, err)
	}
	zs, err := w.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstate: get %s: %w", key, err)
	}
	out := make([]state.WindowEntry, len(zs))
	for i, z := range zs {
		out[i] = decode(z)
	}
	return out, nil
}

func (w windowStore) Clear(ctx context.Context, key string) error {
	return w.rdb.Del(ctx, key).Err()
}

func (w windowStore) ClearLabel(ctx context.Context, key string, label string) error {
	zs, err := w.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redisstate: clear-label read %s: %w", key, err)
	}
	var toRemove []interface{}
	for _, z := range zs {
		if decode(z).Label == label {
			toRemove = append(toRemove, z.Member)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	return w.rdb.ZRem(ctx, key, toRemove...).Err()
}

// --- generic KV ---

type kvStore struct {
	rdb *redis.Client
	lg  *logx.Logger
}

func (k kvStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k kvStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, val, ttl).Err()
}

func (k kvStore) Delete(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, key).Err()
}

// CAS uses Redis WATCH/MULTI to implement optimistic concurrency,
// retrying up to maxCASRetries times per §5's "optimistic
// compare-and-swap with a retry cap of 3" policy. On exhaustion it
// returns state.ErrCASConflict and the caller treats the update as
// dropped soft state (§7 StateConflict policy).
func (k kvStore) CAS(ctx context.Context, key string, fn func(cur []byte, present bool) (next []byte, ok bool)) error {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		err := k.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			present := true
			if err == redis.Nil {
				present, cur = false, nil
			} else if err != nil {
				return err
			}
			next, ok := fn(cur, present)
			if !ok {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			lastErr = state.ErrCASConflict
			continue
		}
		return err
	}
	if k.lg != nil {
		k.lg.Warn("state CAS exhausted retries, dropping update", logx.KVs("key", key))
	}
	return lastErr
}

// --- TTL set: one Redis key per member (set:member), relying on
// native TTL rather than a Redis SET data type, so membership and
// expiry are a single GET/SETEX round trip. ---

type ttlSet struct{ rdb *redis.Client }

func ttlKey(set, member string) string { return "ttlset:" + set + ":" + member }

func (t ttlSet) Add(ctx context.Context, set string, member string, ttl time.Duration) error {
	return t.rdb.Set(ctx, ttlKey(set, member), "1", ttl).Err()
}

func (t ttlSet) Contains(ctx context.Context, set string, member string) (bool, error) {
	n, err := t.rdb.Exists(ctx, ttlKey(set, member)).Result()
	return n > 0, err
}

func (t ttlSet) Remove(ctx context.Context, set string, member string) error {
	return t.rdb.Del(ctx, ttlKey(set, member)).Err()
}

func (t ttlSet) Count(ctx context.Context, set string) (int, error) {
	var cursor uint64
	count := 0
	prefix := "ttlset:" + set + ":*"
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, prefix, 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}
