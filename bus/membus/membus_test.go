/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package membus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/bus"
	"github.com/gravwell/siemcore/model"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	b, err := New(4, "")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []model.EnrichedEvent
	done := make(chan struct{})
	go func() {
		b.Subscribe(ctx, "detectors", func(_ context.Context, d bus.Delivery) {
			mu.Lock()
			got = append(got, d.Event)
			mu.Unlock()
			d.Ack()
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let Subscribe register before Publish
	require.NoError(t, b.Publish(ctx, model.EnrichedEvent{TenantID: "t1"}))
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, "t1", got[0].TenantID)
}

func TestCheckpointPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offsets.db")
	b, err := New(2, path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Subscribe(ctx, "g", func(_ context.Context, d bus.Delivery) { d.Ack() })
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, model.EnrichedEvent{TenantID: "t1"}))
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, b.Close())

	b2, err := New(2, path)
	require.NoError(t, err)
	defer b2.Close()
	p := bus.Partition("t1", 2)
	require.GreaterOrEqual(t, b2.CheckpointedOffset(p), int64(0))
}

func TestPartitionDeterministic(t *testing.T) {
	a := bus.Partition("tenant-a", 8)
	b := bus.Partition("tenant-a", 8)
	require.Equal(t, a, b)
}
