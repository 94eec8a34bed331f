/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package memstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/state"
)

var _ state.Substrate = (*Substrate)(nil)

func TestWindowAppendEvicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ttl := 300 * time.Second

	for i := 0; i < 5; i++ {
		_, err := s.Windows().Append(ctx, "t1:bf:1.2.3.4", state.WindowEntry{At: base.Add(time.Duration(i) * time.Second)}, ttl, 100)
		require.NoError(t, err)
	}

	// an entry exactly ttl+1s after the first evicts only the first
	win, err := s.Windows().Append(ctx, "t1:bf:1.2.3.4", state.WindowEntry{At: base.Add(ttl + time.Second)}, ttl, 100)
	require.NoError(t, err)
	require.Len(t, win, 5) // entries 1..4 plus the new one; entry 0 evicted
}

func TestWindowClearLabel(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_, _ = s.Windows().Append(ctx, "k", state.WindowEntry{At: now, Label: "ip-a"}, time.Minute, 10)
	_, _ = s.Windows().Append(ctx, "k", state.WindowEntry{At: now, Label: "ip-b"}, time.Minute, 10)

	require.NoError(t, s.Windows().ClearLabel(ctx, "k", "ip-a"))
	win, err := s.Windows().Get(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Len(t, win, 1)
	require.Equal(t, "ip-b", win[0].Label)
}

func TestTTLSetExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.TTL().Add(ctx, "dyn:t1", "1.2.3.4", -time.Second)) // already expired
	ok, err := s.TTL().Contains(ctx, "dyn:t1", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.KV().CAS(ctx, "k", func(cur []byte, present bool) ([]byte, bool) {
		require.False(t, present)
		return []byte("v1"), true
	})
	require.NoError(t, err)

	val, ok, err := s.KV().Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(val))
}
