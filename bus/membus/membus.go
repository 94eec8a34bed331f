/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package membus is an in-memory bus.Bus for tests and small single-
// process deployments. It partitions events exactly like the Kafka
// backend and can record acked offsets per partition in a BoltDB file,
// adapting the bucket/transaction style of octoreflex's
// internal/storage/bolt.go. The partition logs live only in memory, and
// the recorded offsets are read back only through CheckpointedOffset.
package membus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/gravwell/siemcore/bus"
	"github.com/gravwell/siemcore/model"
)

var offsetBucket = []byte("offsets")

type partitionLog struct {
	mu     sync.Mutex
	events []model.EnrichedEvent
}

// Bus is the in-memory, partitioned bus.Bus implementation.
type Bus struct {
	n        int
	mu       sync.RWMutex
	logs     []*partitionLog
	handlers map[string][]bus.Handler
	offsets  *bolt.DB // nil if no checkpoint file configured
	nextOff  int64
}

// New builds an in-memory bus with n partitions. If checkpointPath is
// non-empty, acked offsets are durably recorded there per partition;
// New always starts with empty logs and does not read earlier records.
func New(n int, checkpointPath string) (*Bus, error) {
	if n <= 0 {
		n = 1
	}
	b := &Bus{n: n, handlers: make(map[string][]bus.Handler)}
	b.logs = make([]*partitionLog, n)
	for i := range b.logs {
		b.logs[i] = &partitionLog{}
	}
	if checkpointPath != "" {
		db, err := bolt.Open(checkpointPath, 0o600, nil)
		if err != nil {
			return nil, fmt.Errorf("membus: open checkpoint db: %w", err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(offsetBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("membus: init checkpoint bucket: %w", err)
		}
		b.offsets = db
	}
	return b, nil
}

func partitionKey(p int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(p))
	return k
}

// CheckpointedOffset returns the last durably recorded offset for a
// partition, or -1 if none is recorded.
func (b *Bus) CheckpointedOffset(p int) int64 {
	if b.offsets == nil {
		return -1
	}
	var off int64 = -1
	b.offsets.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(offsetBucket).Get(partitionKey(p))
		if len(v) == 8 {
			off = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return off
}

func (b *Bus) checkpoint(p int, offset int64) {
	if b.offsets == nil {
		return
	}
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(offset))
	_ = b.offsets.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(offsetBucket).Put(partitionKey(p), v)
	})
}

// Publish assigns a partition by hash(tenant_id) mod n, stamps the
// event's Partition/Offset, and delivers synchronously to every
// subscribed group's handler in that partition.
func (b *Bus) Publish(ctx context.Context, ev model.EnrichedEvent) error {
	p := bus.Partition(ev.TenantID, b.n)
	log := b.logs[p]

	log.mu.Lock()
	off := int64(len(log.events))
	ev.Partition = p
	ev.Offset = off
	log.events = append(log.events, ev)
	log.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, hs := range b.handlers {
		for _, h := range hs {
			acked := make(chan struct{}, 1)
			d := bus.NewDelivery(ev,
				func() { b.checkpoint(p, off); acked <- struct{}{} },
				func() { acked <- struct{}{} },
			)
			h(ctx, d)
		}
	}
	return nil
}

// Subscribe registers h under group. Every group sees every event
// (fan-out), matching a Kafka consumer group's per-group delivery
// semantics when there is exactly one bus for the whole pipeline.
func (b *Bus) Subscribe(ctx context.Context, group string, h bus.Handler) error {
	b.mu.Lock()
	b.handlers[group] = append(b.handlers[group], h)
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *Bus) Close() error {
	if b.offsets != nil {
		return b.offsets.Close()
	}
	return nil
}
