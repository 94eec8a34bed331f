/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package memstore is the in-memory store.* implementation: a test
// double and a viable single-process deployment backend, the same role
// state/memstate plays for the state substrate.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/store"
)

// Store implements store.AlertStore, store.BaselineStore,
// store.WhitelistStore, and store.EventStore over plain maps guarded
// by one mutex apiece.
type Store struct {
	alertMu sync.RWMutex
	alerts  map[string]model.Alert

	baselineMu sync.RWMutex
	baselines  map[string]model.UserBaseline

	whitelistMu sync.RWMutex
	whitelists  map[string][]model.WhitelistEntry // tenantID -> entries

	eventMu sync.Mutex
	events  []model.EnrichedEvent
}

func New() *Store {
	return &Store{
		alerts:     make(map[string]model.Alert),
		baselines:  make(map[string]model.UserBaseline),
		whitelists: make(map[string][]model.WhitelistEntry),
	}
}

// --- AlertStore ---

func (s *Store) Get(_ context.Context, fingerprint string) (model.Alert, bool, error) {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()
	a, ok := s.alerts[fingerprint]
	return a, ok, nil
}

func (s *Store) Put(_ context.Context, a model.Alert) error {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alerts[a.ID] = a
	return nil
}

func (s *Store) List(_ context.Context, tenantID string, filter store.AlertFilter) ([]model.Alert, error) {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()

	var out []model.Alert
	for _, a := range s.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && a.Kind != *filter.Kind {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastEventAt.After(out[j].LastEventAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CountSince(_ context.Context, tenantID string, since time.Time) (total, suppressed, active int, err error) {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()
	for _, a := range s.alerts {
		if a.TenantID != tenantID || a.LastEventAt.Before(since) {
			continue
		}
		total++
		if a.Status == model.StatusSuppressed {
			suppressed++
		}
		if a.IsNonTerminal() {
			active++
		}
	}
	return total, suppressed, active, nil
}

// --- BaselineStore ---

func baselineKey(tenantID, username string) string { return tenantID + "/" + username }

func (s *Store) GetBaseline(_ context.Context, tenantID, username string) (model.UserBaseline, bool, error) {
	s.baselineMu.RLock()
	defer s.baselineMu.RUnlock()
	b, ok := s.baselines[baselineKey(tenantID, username)]
	return b, ok, nil
}

func (s *Store) PutBaseline(_ context.Context, b model.UserBaseline) error {
	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()
	s.baselines[baselineKey(b.TenantID, b.Username)] = b
	return nil
}

// --- WhitelistStore ---

func (s *Store) ListWhitelist(_ context.Context, tenantID string) ([]model.WhitelistEntry, error) {
	s.whitelistMu.RLock()
	defer s.whitelistMu.RUnlock()
	out := make([]model.WhitelistEntry, len(s.whitelists[tenantID]))
	copy(out, s.whitelists[tenantID])
	return out, nil
}

func (s *Store) AddWhitelist(_ context.Context, entry model.WhitelistEntry) error {
	s.whitelistMu.Lock()
	defer s.whitelistMu.Unlock()
	entries := s.whitelists[entry.TenantID]
	for i, e := range entries {
		if e.Kind == entry.Kind && e.Value == entry.Value {
			entries[i] = entry
			s.whitelists[entry.TenantID] = entries
			return nil
		}
	}
	s.whitelists[entry.TenantID] = append(entries, entry)
	return nil
}

func (s *Store) RemoveWhitelist(_ context.Context, tenantID string, kind model.WhitelistKind, value string) error {
	s.whitelistMu.Lock()
	defer s.whitelistMu.Unlock()
	entries := s.whitelists[tenantID]
	for i, e := range entries {
		if e.Kind == kind && e.Value == value {
			s.whitelists[tenantID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// --- EventStore ---

func (s *Store) Append(_ context.Context, ev model.EnrichedEvent) error {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) CountEventsSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.TenantID == tenantID && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}
