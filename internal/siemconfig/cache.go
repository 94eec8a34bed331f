/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package siemconfig

import (
	"sync"
	"time"
)

// ControlPlane is the subset of the external admin API the core
// consumes to source tenant policy (§6 "Control-plane API"). The HTTP
// transport and auth plumbing that implements this are out of scope
// per spec.md §1; siemcore only depends on this Go-level contract.
type ControlPlane interface {
	TenantConfig(tenantID string) (TenantConfig, error)
	TenantIDs() ([]string, error)
}

type cacheEntry struct {
	cfg       TenantConfig
	fetchedAt time.Time
}

// Cache is a read-through cache over ControlPlane with the spec's
// 5-second freshness bound. A lookup holds the read lock only while it
// copies one entry out; a refresh or Invalidate takes the write lock to
// replace or drop that one tenant's entry. The control-plane fetch runs
// outside any lock.
type Cache struct {
	mu   sync.RWMutex
	cp   ControlPlane
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewCache builds a tenant-config cache backed by cp.
func NewCache(cp ControlPlane) *Cache {
	return &Cache{
		cp:   cp,
		data: make(map[string]cacheEntry),
		ttl:  CacheTTL,
		now:  time.Now,
	}
}

// Get returns the tenant's current config, refreshing from the control
// plane if the cached copy is older than CacheTTL.
func (c *Cache) Get(tenantID string) (TenantConfig, error) {
	c.mu.RLock()
	entry, ok := c.data[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.cfg, nil
	}
	cfg, err := c.cp.TenantConfig(tenantID)
	if err != nil {
		if ok {
			// serve stale rather than fail the hot path
			return entry.cfg, nil
		}
		return TenantConfig{}, err
	}
	c.mu.Lock()
	c.data[tenantID] = cacheEntry{cfg: cfg, fetchedAt: c.now()}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops a tenant's cached entry, forcing the next Get to
// refetch. Used when a control-plane mutation (whitelist add, business
// hours change) needs to take effect immediately rather than waiting
// out the TTL.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.data, tenantID)
	c.mu.Unlock()
}
