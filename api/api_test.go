/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/alertmgr"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/store"
	"github.com/gravwell/siemcore/store/memstore"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, a model.Alert) error { return nil }

func newHarness(t *testing.T) (*QueryAPI, *ControlAPI, *memstore.Store, *siemconfig.Cache) {
	t.Helper()
	ms := memstore.New()
	cp := siemconfig.NewLocalControlPlane([]string{"t1"})
	cache := siemconfig.NewCache(cp)
	mgr := alertmgr.New(ms, nopDispatcher{}, cache, nil)

	probes := map[string]Prober{
		"listener":  ProberFunc(func(context.Context) ComponentStatus { return StatusOK }),
		"bus":       ProberFunc(func(context.Context) ComponentStatus { return StatusOK }),
		"detectors": ProberFunc(func(context.Context) ComponentStatus { return StatusDegraded }),
	}
	q := NewQueryAPI(mgr, ms, ms, ms, probes, nil)
	c := NewControlAPI(ms, cp, cache, nil, nil)
	return q, c, ms, cache
}

func TestQueryAPIListAndGetAlert(t *testing.T) {
	q, _, ms, _ := newHarness(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ms.Put(ctx, model.Alert{ID: "a1", TenantID: "t1", Status: model.StatusOpen, LastEventAt: base}))
	require.NoError(t, ms.Put(ctx, model.Alert{ID: "a2", TenantID: "t1", Status: model.StatusOpen, LastEventAt: base.Add(time.Hour)}))

	out, err := q.ListAlerts(ctx, "t1", store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a2", out[0].ID) // most recent first

	a, err := q.GetAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "t1", a.TenantID)

	_, err = q.GetAlert(ctx, "missing")
	require.Error(t, err)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindNotFound, apiErr.Kind)

	_, err = q.ListAlerts(ctx, "", store.AlertFilter{})
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindInvalidArgument, apiErr.Kind)
}

func TestQueryAPISetAlertStatus(t *testing.T) {
	q, _, ms, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ms.Put(ctx, model.Alert{ID: "a1", TenantID: "t1", Status: model.StatusOpen, LastEventAt: time.Now()}))

	a, err := q.SetAlertStatus(ctx, "a1", model.StatusInvestigating, "")
	require.NoError(t, err)
	require.Equal(t, model.StatusInvestigating, a.Status)

	_, err = q.SetAlertStatus(ctx, "a1", model.StatusSuppressed, "")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindInvalidArgument, apiErr.Kind)

	_, err = q.SetAlertStatus(ctx, "missing", model.StatusInvestigating, "")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindNotFound, apiErr.Kind)
}

func TestQueryAPIGetBaseline(t *testing.T) {
	q, _, ms, _ := newHarness(t)
	ctx := context.Background()
	require.NoError(t, ms.PutBaseline(ctx, model.UserBaseline{TenantID: "t1", Username: "alice", SampleCount: 3}))

	b, err := q.GetBaseline(ctx, "t1", "alice")
	require.NoError(t, err)
	require.Equal(t, 3, b.SampleCount)

	_, err = q.GetBaseline(ctx, "t1", "bob")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindNotFound, apiErr.Kind)
}

func TestQueryAPIDetectionStats(t *testing.T) {
	q, _, ms, _ := newHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	ev1 := model.EnrichedEvent{TenantID: "t1"}
	ev1.Timestamp = now.Add(-time.Hour)
	require.NoError(t, ms.Append(ctx, ev1))
	ev2 := model.EnrichedEvent{TenantID: "t1"}
	ev2.Timestamp = now.Add(-48 * time.Hour)
	require.NoError(t, ms.Append(ctx, ev2))
	require.NoError(t, ms.Put(ctx, model.Alert{ID: "a1", TenantID: "t1", Status: model.StatusOpen, LastEventAt: now.Add(-time.Hour)}))
	require.NoError(t, ms.Put(ctx, model.Alert{ID: "a2", TenantID: "t1", Status: model.StatusSuppressed, LastEventAt: now.Add(-time.Hour)}))

	stats, err := q.DetectionStats(ctx, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Events24h)
	require.Equal(t, 2, stats.Alerts24h)
	require.Equal(t, 1, stats.Suppressions24h)
	require.Equal(t, 2, stats.ActiveAlerts)
}

func TestQueryAPIHealth(t *testing.T) {
	q, _, _, _ := newHarness(t)
	report := q.Health(context.Background())
	require.Equal(t, StatusOK, report.Components["listener"])
	require.Equal(t, StatusDegraded, report.Components["detectors"])
	require.Equal(t, StatusDown, report.Components["alert_mgr"]) // no prober registered
	require.Equal(t, StatusDown, report.Overall())
}

func TestControlAPIWhitelistRoundTripInvalidatesCache(t *testing.T) {
	var reloaded []model.WhitelistEntry
	ms := memstore.New()
	cp := siemconfig.NewLocalControlPlane([]string{"t1"})
	cache := siemconfig.NewCache(cp)
	c := NewControlAPI(ms, cp, cache, func(tenantID string, entries []model.WhitelistEntry) error {
		reloaded = entries
		return nil
	}, nil)
	ctx := context.Background()

	// warm the cache so we can observe invalidation.
	_, err := cache.Get("t1")
	require.NoError(t, err)

	entry := model.WhitelistEntry{TenantID: "t1", Kind: model.WhitelistIP, Value: "203.0.113.5", Source: model.WhitelistStatic}
	require.NoError(t, c.AddWhitelist(ctx, entry))
	require.Len(t, reloaded, 1)

	list, err := c.ListWhitelist(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.RemoveWhitelist(ctx, "t1", model.WhitelistIP, "203.0.113.5"))
	require.Empty(t, reloaded)

	err = c.AddWhitelist(ctx, model.WhitelistEntry{})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, KindInvalidArgument, apiErr.Kind)
}

func TestControlAPIBusinessHoursAndMaintenanceWindow(t *testing.T) {
	_, c, _, cache := newHarness(t)
	_, err := cache.Get("t1")
	require.NoError(t, err)

	bh := siemconfig.BusinessHours{Enabled: true, Timezone: "UTC", StartHour: 9, EndHour: 17, Days: []int{1, 2, 3, 4, 5}}
	require.NoError(t, c.SetBusinessHours("t1", bh))

	cfg, err := cache.Get("t1")
	require.NoError(t, err)
	require.True(t, cfg.BusinessHours.Enabled)

	require.Error(t, c.SetBusinessHours("unknown-tenant", bh))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := siemconfig.MaintenanceWindow{ID: "mw1", Start: now, End: now.Add(time.Hour), AuthorizedIPs: []string{"203.0.113.9"}}
	require.NoError(t, c.OpenMaintenanceWindow("t1", w))
	cfg, err = cache.Get("t1")
	require.NoError(t, err)
	require.Len(t, cfg.MaintenanceWindows, 1)

	bad := w
	bad.End = now.Add(-time.Hour)
	var apiErr *Error
	require.True(t, errors.As(c.OpenMaintenanceWindow("t1", bad), &apiErr))
	require.Equal(t, KindInvalidArgument, apiErr.Kind)
}
