/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package siemconfig

import (
	"fmt"
	"sort"
	"sync"
)

// LocalControlPlane is a ControlPlane backed by an in-process map
// rather than a remote admin API call. It is what cmd/siemcore wires
// up for a single-node deployment that has no separate control-plane
// service of its own, and it is also the mutation target for the
// control-plane CRUD operations (§6) the api package exposes:
// set_business_hours and open_maintenance_window both land here.
// Whitelist CRUD is handled by store.WhitelistStore instead, since
// whitelists are §6's own persisted-state table, not tenant policy.
type LocalControlPlane struct {
	mu   sync.RWMutex
	cfgs map[string]TenantConfig
}

// NewLocalControlPlane seeds a control plane with one default config
// per tenant ID given, mirroring the literal defaults from §6.
func NewLocalControlPlane(tenantIDs []string) *LocalControlPlane {
	cfgs := make(map[string]TenantConfig, len(tenantIDs))
	for _, id := range tenantIDs {
		cfgs[id] = DefaultTenantConfig(id)
	}
	return &LocalControlPlane{cfgs: cfgs}
}

func (l *LocalControlPlane) TenantConfig(tenantID string) (TenantConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.cfgs[tenantID]
	if !ok {
		return TenantConfig{}, fmt.Errorf("siemconfig: unknown tenant %q", tenantID)
	}
	return cfg, nil
}

func (l *LocalControlPlane) TenantIDs() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.cfgs))
	for id := range l.cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetBusinessHours replaces a tenant's business-hours window in place.
// AddTenant must have been called first (directly or via
// NewLocalControlPlane); an unknown tenant is an error rather than a
// silent implicit create, since policy writes should never be the
// thing that first registers a tenant.
func (l *LocalControlPlane) SetBusinessHours(tenantID string, bh BusinessHours) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.cfgs[tenantID]
	if !ok {
		return fmt.Errorf("siemconfig: unknown tenant %q", tenantID)
	}
	cfg.BusinessHours = bh
	l.cfgs[tenantID] = cfg
	return nil
}

// OpenMaintenanceWindow appends a maintenance window to a tenant's
// config. Expired windows are never pruned automatically here; an
// operator closes the loop by not renewing them, and MaintenanceWindow
// .Active already ignores anything outside [Start, End).
func (l *LocalControlPlane) OpenMaintenanceWindow(tenantID string, w MaintenanceWindow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.cfgs[tenantID]
	if !ok {
		return fmt.Errorf("siemconfig: unknown tenant %q", tenantID)
	}
	cfg.MaintenanceWindows = append(cfg.MaintenanceWindows, w)
	l.cfgs[tenantID] = cfg
	return nil
}

// AddTenant registers tenantID with its default config if it is not
// already known, so a newly onboarded tenant can receive business-hours
// or maintenance-window policy without restarting the process.
func (l *LocalControlPlane) AddTenant(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cfgs[tenantID]; !ok {
		l.cfgs[tenantID] = DefaultTenantConfig(tenantID)
	}
}
