/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAlertPutGetListCount(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := model.Alert{
		ID: "fp1", TenantID: "t1", Kind: model.AlertBruteForceSingleSource,
		Severity: model.SeverityHigh, Confidence: 0.9,
		SourceIPs: []string{"203.0.113.10"}, Usernames: []string{"alice"},
		FirstEventAt: base, LastEventAt: base, EventCount: 7,
		Evidence: []model.EvidenceRef{{Partition: 0, Offset: 1, TenantID: "t1", Timestamp: base, SourceIP: "203.0.113.10", Username: "alice"}},
		Status:   model.StatusOpen, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.Put(ctx, a))

	got, ok, err := s.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.SourceIPs, got.SourceIPs)
	require.Equal(t, a.Usernames, got.Usernames)
	require.Len(t, got.Evidence, 1)
	require.Equal(t, a.Evidence[0].Username, got.Evidence[0].Username)
	require.WithinDuration(t, a.FirstEventAt, got.FirstEventAt, time.Microsecond)

	a.EventCount = 8
	a.LastEventAt = base.Add(time.Minute)
	require.NoError(t, s.Put(ctx, a))
	got, ok, err = s.Get(ctx, "fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8, got.EventCount)

	list, err := s.List(ctx, "t1", store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	total, suppressed, active, err := s.CountSince(ctx, "t1", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 0, suppressed)
	require.Equal(t, 1, active)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBaselineRoundTripPreservesWelfordState(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	b := model.UserBaseline{
		TenantID: "t1", Username: "alice", ProfileType: model.ProfileHuman,
		TypicalHours: map[int]struct{}{9: {}, 10: {}}, TypicalDays: map[int]struct{}{1: {}},
		TypicalCountries: model.NewLRUSet(10), TypicalIPs: model.NewLRUSet(50), TypicalDevices: model.NewLRUSet(20),
		SampleCount: 12, UpdatedAt: time.Now().UTC(),
	}
	b.TypicalIPs.Add("203.0.113.10")
	b.TypicalCountries.Add("US")
	for _, n := range []int{5, 6, 7} {
		b.ObserveDailyLoginCount(n)
	}
	require.NoError(t, s.PutBaseline(ctx, b))

	got, ok, err := s.GetBaseline(ctx, "t1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12, got.SampleCount)
	require.True(t, got.TypicalIPs.Contains("203.0.113.10"))
	require.True(t, got.TypicalCountries.Contains("US"))
	_, ok = got.TypicalHours[9]
	require.True(t, ok)
	require.InDelta(t, b.AvgDailyLogins, got.AvgDailyLogins, 0.001)

	gotMean, gotM2, gotCount := got.WelfordState()
	wantMean, wantM2, wantCount := b.WelfordState()
	require.InDelta(t, wantMean, gotMean, 0.001)
	require.InDelta(t, wantM2, gotM2, 0.001)
	require.Equal(t, wantCount, gotCount)

	got.ObserveDailyLoginCount(8)
	require.NotEqual(t, b.AvgDailyLogins, got.AvgDailyLogins)
}

func TestWhitelistAddListRemove(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC()
	entry := model.WhitelistEntry{TenantID: "t1", Kind: model.WhitelistIP, Value: "203.0.113.99", Source: model.WhitelistDynamic, ExpiresAt: &expires}
	require.NoError(t, s.AddWhitelist(ctx, entry))

	list, err := s.ListWhitelist(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ExpiresAt)
	require.WithinDuration(t, expires, *list[0].ExpiresAt, time.Microsecond)

	require.NoError(t, s.RemoveWhitelist(ctx, "t1", model.WhitelistIP, "203.0.113.99"))
	list, err = s.ListWhitelist(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestEventAppendAndCount(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ev := model.EnrichedEvent{TenantID: "t1", EventType: model.EventAuthFailure}
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Append(ctx, ev))
	}
	n, err := s.CountEventsSince(ctx, "t1", base)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = s.CountEventsSince(ctx, "t1", base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
