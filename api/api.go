/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package api implements the two Go-level service contracts §6 names
// at the edge of the detection core: the Query API the core exposes to
// an admin layer (alert listing/lookup/status changes, baselines,
// detection stats, health) and the control-plane CRUD the core
// consumes from (i.e. serves on behalf of) the same admin layer
// (whitelist management, business hours, maintenance windows). HTTP
// transport and authn/z for either surface are out of scope per
// spec.md §1 -- exactly as the teacher's rest package sits behind a
// transport-agnostic ingest.IngestMuxer, these two types are meant to
// be wrapped by whatever transport an operator picks.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravwell/siemcore/alertmgr"
	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/store"
)

// ErrorKind is one of the four kinds §7 requires the query API to
// surface, never leaking an internal stack trace.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindTenantForbidden ErrorKind = "tenant_forbidden"
	KindInternal        ErrorKind = "internal"
)

// Error wraps an underlying failure with the caller-facing kind it
// should be reported as. Callers should use errors.As to recover Kind
// rather than string-matching Error().
type Error struct {
	Kind ErrorKind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("api: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("api: %s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func newErr(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, err: err}
}

// ComponentStatus is one named subsystem's health for the health()
// operation.
type ComponentStatus string

const (
	StatusOK       ComponentStatus = "ok"
	StatusDegraded ComponentStatus = "degraded"
	StatusDown     ComponentStatus = "down"
)

// HealthReport is the §6 health() return shape.
type HealthReport struct {
	Components map[string]ComponentStatus
}

// Overall folds the component map down to the worst status present.
func (h HealthReport) Overall() ComponentStatus {
	worst := StatusOK
	for _, s := range h.Components {
		switch s {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			worst = StatusDegraded
		}
	}
	return worst
}

// Prober is implemented by anything health() should probe. Real
// components (ingestsrv.Server, a bus, a detector pool, alertmgr) wire
// their own liveness signal into this; tests use a static stub.
type Prober interface {
	Probe(ctx context.Context) ComponentStatus
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context) ComponentStatus

func (f ProberFunc) Probe(ctx context.Context) ComponentStatus { return f(ctx) }

// DetectionStats is the §6 detection_stats() return shape.
type DetectionStats struct {
	Events24h       int
	Alerts24h       int
	Suppressions24h int
	ActiveAlerts    int
}

// QueryAPI implements the §6 "Query API" the core exposes to the admin
// layer. It is a thin, transport-agnostic facade over alertmgr.Manager
// and the store package -- deliberately free of any HTTP framework,
// the same separation the teacher keeps between ingest.IngestMuxer and
// the rest transport package that wraps it.
type QueryAPI struct {
	mgr       *alertmgr.Manager
	alerts    store.AlertStore
	baselines store.BaselineStore
	events    store.EventStore
	probes    map[string]Prober
	lg        *logx.Logger
}

// NewQueryAPI builds a QueryAPI. probes is the named component map for
// Health(); a nil or missing entry degrades that component's reported
// status to "down" rather than panicking.
func NewQueryAPI(mgr *alertmgr.Manager, alerts store.AlertStore, baselines store.BaselineStore, events store.EventStore, probes map[string]Prober, lg *logx.Logger) *QueryAPI {
	return &QueryAPI{mgr: mgr, alerts: alerts, baselines: baselines, events: events, probes: probes, lg: lg}
}

// ListAlerts implements list_alerts(tenant, filter) -> [Alert],
// paginated and ordered by last_event_at desc (store.AlertStore.List
// already enforces the ordering).
func (q *QueryAPI) ListAlerts(ctx context.Context, tenantID string, filter store.AlertFilter) ([]model.Alert, error) {
	if tenantID == "" {
		return nil, newErr("ListAlerts", KindInvalidArgument, errors.New("tenant is required"))
	}
	out, err := q.alerts.List(ctx, tenantID, filter)
	if err != nil {
		return nil, newErr("ListAlerts", KindInternal, err)
	}
	return out, nil
}

// GetAlert implements get_alert(id) -> Alert.
func (q *QueryAPI) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	a, ok, err := q.alerts.Get(ctx, id)
	if err != nil {
		return model.Alert{}, newErr("GetAlert", KindInternal, err)
	}
	if !ok {
		return model.Alert{}, newErr("GetAlert", KindNotFound, store.ErrNotFound)
	}
	return a, nil
}

// SetAlertStatus implements set_alert_status(id, status, reason),
// driving alertmgr.Manager's §4.10 state machine.
func (q *QueryAPI) SetAlertStatus(ctx context.Context, id string, status model.AlertStatus, reason string) (model.Alert, error) {
	a, err := q.mgr.SetStatus(ctx, id, status, reason)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, alertmgr.ErrNotFound):
		return model.Alert{}, newErr("SetAlertStatus", KindNotFound, err)
	case errors.Is(err, alertmgr.ErrInvalidTransition):
		return model.Alert{}, newErr("SetAlertStatus", KindInvalidArgument, err)
	default:
		return model.Alert{}, newErr("SetAlertStatus", KindInternal, err)
	}
}

// GetBaseline implements get_baseline(tenant, user) -> UserBaseline.
func (q *QueryAPI) GetBaseline(ctx context.Context, tenantID, username string) (model.UserBaseline, error) {
	b, ok, err := q.baselines.GetBaseline(ctx, tenantID, username)
	if err != nil {
		return model.UserBaseline{}, newErr("GetBaseline", KindInternal, err)
	}
	if !ok {
		return model.UserBaseline{}, newErr("GetBaseline", KindNotFound, store.ErrNotFound)
	}
	return b, nil
}

// DetectionStats implements detection_stats(tenant) over a trailing
// 24-hour window, as §6 names it.
func (q *QueryAPI) DetectionStats(ctx context.Context, tenantID string, now time.Time) (DetectionStats, error) {
	since := now.Add(-24 * time.Hour)
	events, err := q.events.CountEventsSince(ctx, tenantID, since)
	if err != nil {
		return DetectionStats{}, newErr("DetectionStats", KindInternal, err)
	}
	total, suppressed, active, err := q.alerts.CountSince(ctx, tenantID, since)
	if err != nil {
		return DetectionStats{}, newErr("DetectionStats", KindInternal, err)
	}
	return DetectionStats{
		Events24h:       events,
		Alerts24h:       total,
		Suppressions24h: suppressed,
		ActiveAlerts:    active,
	}, nil
}

// componentNames is the fixed §6 health() component set.
var componentNames = []string{"listener", "bus", "detectors", "alert_mgr"}

// Health implements health() -> { components: {...} }. A component
// with no registered prober reports "down": an unmonitored component
// is treated as failed rather than silently omitted.
func (q *QueryAPI) Health(ctx context.Context) HealthReport {
	report := HealthReport{Components: make(map[string]ComponentStatus, len(componentNames))}
	for _, name := range componentNames {
		p, ok := q.probes[name]
		if !ok || p == nil {
			report.Components[name] = StatusDown
			continue
		}
		report.Components[name] = p.Probe(ctx)
	}
	return report
}

// ControlAPI implements the §6 control-plane surface the core serves
// on behalf of the admin layer: whitelist CRUD plus tenant policy
// edits. Every mutation invalidates the tenant's siemconfig.Cache
// entry so the "changes take effect within 5 seconds" contract is met
// immediately rather than at the next TTL expiry.
type ControlAPI struct {
	whitelist store.WhitelistStore
	cp        *siemconfig.LocalControlPlane
	cache     *siemconfig.Cache
	onReload  func(tenantID string, entries []model.WhitelistEntry) error
	lg        *logx.Logger
}

// NewControlAPI builds a ControlAPI. onReload is called with a
// tenant's full whitelist after every add/remove so the caller can
// push the refreshed set into fpreduce.Reducer.SetStaticWhitelist; it
// may be nil in tests that don't care about propagation.
func NewControlAPI(whitelist store.WhitelistStore, cp *siemconfig.LocalControlPlane, cache *siemconfig.Cache, onReload func(tenantID string, entries []model.WhitelistEntry) error, lg *logx.Logger) *ControlAPI {
	return &ControlAPI{whitelist: whitelist, cp: cp, cache: cache, onReload: onReload, lg: lg}
}

// ListWhitelist implements list_whitelist(tenant) -> [WhitelistEntry].
func (c *ControlAPI) ListWhitelist(ctx context.Context, tenantID string) ([]model.WhitelistEntry, error) {
	out, err := c.whitelist.ListWhitelist(ctx, tenantID)
	if err != nil {
		return nil, newErr("ListWhitelist", KindInternal, err)
	}
	return out, nil
}

// AddWhitelist implements add_whitelist(...).
func (c *ControlAPI) AddWhitelist(ctx context.Context, entry model.WhitelistEntry) error {
	if entry.TenantID == "" || entry.Value == "" {
		return newErr("AddWhitelist", KindInvalidArgument, errors.New("tenant and value are required"))
	}
	if err := c.whitelist.AddWhitelist(ctx, entry); err != nil {
		return newErr("AddWhitelist", KindInternal, err)
	}
	return c.reload(ctx, entry.TenantID)
}

// RemoveWhitelist implements remove_whitelist(...).
func (c *ControlAPI) RemoveWhitelist(ctx context.Context, tenantID string, kind model.WhitelistKind, value string) error {
	if err := c.whitelist.RemoveWhitelist(ctx, tenantID, kind, value); err != nil {
		return newErr("RemoveWhitelist", KindInternal, err)
	}
	return c.reload(ctx, tenantID)
}

func (c *ControlAPI) reload(ctx context.Context, tenantID string) error {
	c.cache.Invalidate(tenantID)
	if c.onReload == nil {
		return nil
	}
	entries, err := c.whitelist.ListWhitelist(ctx, tenantID)
	if err != nil {
		return newErr("reload", KindInternal, err)
	}
	if err := c.onReload(tenantID, entries); err != nil {
		return newErr("reload", KindInternal, err)
	}
	return nil
}

// SetBusinessHours implements set_business_hours(...).
func (c *ControlAPI) SetBusinessHours(tenantID string, bh siemconfig.BusinessHours) error {
	if err := c.cp.SetBusinessHours(tenantID, bh); err != nil {
		return newErr("SetBusinessHours", KindNotFound, err)
	}
	c.cache.Invalidate(tenantID)
	return nil
}

// OpenMaintenanceWindow implements open_maintenance_window(...). A
// caller that leaves w.ID blank gets one assigned, so ad hoc windows
// opened from a dashboard never collide on the zero value.
func (c *ControlAPI) OpenMaintenanceWindow(tenantID string, w siemconfig.MaintenanceWindow) error {
	if w.End.Before(w.Start) {
		return newErr("OpenMaintenanceWindow", KindInvalidArgument, errors.New("window end before start"))
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if err := c.cp.OpenMaintenanceWindow(tenantID, w); err != nil {
		return newErr("OpenMaintenanceWindow", KindNotFound, err)
	}
	c.cache.Invalidate(tenantID)
	return nil
}
