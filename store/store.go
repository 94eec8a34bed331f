/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package store defines the durable persistence contracts for the four
// owned-record tables of the §6 persisted state layout (events, alerts,
// baselines, whitelists -- windows stay in the state substrate, never
// here). store/memstore and store/sqlstore both implement every
// interface in this file; every other package that needs durable
// storage (alertmgr, baseline, api) depends only on the narrow slice
// it actually uses, the same way the rest of the pipeline is wired.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gravwell/siemcore/model"
)

// ErrNotFound is returned by single-record lookups that miss.
var ErrNotFound = errors.New("store: record not found")

// AlertFilter narrows ListAlerts. A nil pointer field means "any".
type AlertFilter struct {
	Status *model.AlertStatus
	Kind   *model.AlertKind
	Limit  int
	Offset int
}

// AlertStore is a superset of alertmgr.Store: it adds the listing and
// counting operations the query API needs, while still satisfying
// alertmgr.Store's narrower Get/Put shape structurally.
type AlertStore interface {
	Get(ctx context.Context, fingerprint string) (model.Alert, bool, error)
	Put(ctx context.Context, alert model.Alert) error
	List(ctx context.Context, tenantID string, filter AlertFilter) ([]model.Alert, error)
	// CountSince implements detection_stats: among the tenant's alerts
	// with last_event_at at or after since, the total, how many are
	// currently suppressed, and how many are active (non-terminal).
	CountSince(ctx context.Context, tenantID string, since time.Time) (total, suppressed, active int, err error)
}

// BaselineStore is a superset of baseline.Backend.
type BaselineStore interface {
	GetBaseline(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error)
	PutBaseline(ctx context.Context, b model.UserBaseline) error
}

// WhitelistStore backs the control-plane API's
// list/add/remove_whitelist operations (§6).
type WhitelistStore interface {
	ListWhitelist(ctx context.Context, tenantID string) ([]model.WhitelistEntry, error)
	AddWhitelist(ctx context.Context, entry model.WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, tenantID string, kind model.WhitelistKind, value string) error
}

// EventStore is the append-only `events` table: every EnrichedEvent
// that reaches the bus is archived here for evidence lookups and the
// events_24h figure in detection_stats. It is best-effort; an archival
// failure is logged and counted by the caller, never fatal to the
// pipeline (§7 does not name an error kind for it because it sits
// outside the detection-correctness path).
type EventStore interface {
	Append(ctx context.Context, ev model.EnrichedEvent) error
	CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}
