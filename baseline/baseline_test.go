/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package baseline

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/model"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string]model.UserBaseline
}

func newFakeBackend() *fakeBackend { return &fakeBackend{data: make(map[string]model.UserBaseline)} }

func (f *fakeBackend) GetBaseline(_ context.Context, tenantID, username string) (model.UserBaseline, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[tenantID+"/"+username]
	return b, ok, nil
}

func (f *fakeBackend) PutBaseline(_ context.Context, b model.UserBaseline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[b.TenantID+"/"+b.Username] = b
	return nil
}

func TestUpdateIncrementalAppliesAsync(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ev := model.EnrichedEvent{
		ParsedEvent: model.ParsedEvent{Timestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), SourceIP: net.ParseIP("203.0.113.5")},
		EventType:   model.EventAuthSuccess,
		GeoCountry:  "US",
	}
	w.UpdateIncremental("t1", "alice", ev)

	require.Eventually(t, func() bool {
		b, ok, _ := w.Get(ctx, "t1", "alice")
		return ok && b.SampleCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateIncrementalDropsOnFullQueue(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	// never start Run: queue fills and further sends must not block
	for i := 0; i < queueCapacity+10; i++ {
		w.UpdateIncremental("t1", "alice", model.EnrichedEvent{EventType: model.EventAuthSuccess})
	}
}

func TestUpdateIncrementalIgnoresAuthFailure(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ev := model.EnrichedEvent{
		ParsedEvent: model.ParsedEvent{Timestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), SourceIP: net.ParseIP("203.0.113.5")},
		EventType:   model.EventAuthFailure,
	}
	for i := 0; i < 5; i++ {
		w.UpdateIncremental("t1", "attacker", ev)
	}

	time.Sleep(50 * time.Millisecond)
	_, ok, _ := w.Get(ctx, "t1", "attacker")
	require.False(t, ok, "auth_failure must not create or update a baseline")
}

func TestRebuildClassifiesServiceAccountByUsername(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	history := []model.EnrichedEvent{
		{ParsedEvent: model.ParsedEvent{Timestamp: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)}, EventType: model.EventAuthSuccess},
	}
	require.NoError(t, w.Rebuild(context.Background(), "t1", "svc-bot", history))
	b, ok, _ := backend.GetBaseline(context.Background(), "t1", "svc-bot")
	require.True(t, ok)
	require.Equal(t, model.ProfileServiceAccount, b.ProfileType)
}

func TestRebuildClassifiesHumanByDefault(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	history := []model.EnrichedEvent{
		{ParsedEvent: model.ParsedEvent{Timestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}, EventType: model.EventAuthSuccess},
	}
	require.NoError(t, w.Rebuild(context.Background(), "t1", "alice", history))
	b, ok, _ := backend.GetBaseline(context.Background(), "t1", "alice")
	require.True(t, ok)
	require.Equal(t, model.ProfileHuman, b.ProfileType)
}

func TestRebuildClassifiesServiceAccountByLowHourStdev(t *testing.T) {
	backend := newFakeBackend()
	w := New(backend, nil, nil)
	var history []model.EnrichedEvent
	for i := 0; i < 25; i++ {
		history = append(history, model.EnrichedEvent{
			ParsedEvent: model.ParsedEvent{Timestamp: time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)},
			EventType:   model.EventAuthSuccess,
		})
	}
	require.NoError(t, w.Rebuild(context.Background(), "t1", "cronuser", history))
	b, ok, _ := backend.GetBaseline(context.Background(), "t1", "cronuser")
	require.True(t, ok)
	require.Equal(t, model.ProfileServiceAccount, b.ProfileType)
}
