/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package enrich implements the enricher (C3): tenant resolution via
// longest-prefix CIDR match, deterministic event classification,
// username/service extraction, geo lookup, and device fingerprinting.
// Tenant resolution is grounded on the teacher's own use of
// asergeyev/nradix in ingest/processors/srcrouter.go, which builds an
// *nradix.Tree of CIDR routes exactly the way this package builds one
// of tenant CIDR blocks.
package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"time"

	"github.com/asergeyev/nradix"

	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/state"
)

// DropReason explains why Enrich discarded an event. Per §4.3,
// unknown_tenant is the only discard path.
type DropReason string

const (
	DropNone          DropReason = ""
	DropUnknownTenant DropReason = "unknown_tenant"
)

// GeoResolver is the pluggable geo-IP lookup collaborator (out of scope
// per spec.md §1; callers inject whatever implementation they have).
type GeoResolver func(ip string) (country string, err error)

var (
	reAuthFailure = regexp.MustCompile(`(?i)(failed password|authentication failure|invalid user|login_failure)`)
	reAuthSuccess = regexp.MustCompile(`(?i)(accepted password|session opened|login_success)`)
	reFirewallApp = regexp.MustCompile(`(?i)(kernel|iptables|firewall)`)
	reSYNConnect  = regexp.MustCompile(`(?i)(SYN|NEW|TCP\s+connection|DPT=\d+)`)
	reUsername    = regexp.MustCompile(`(?i)(?:for|user)\s+(invalid user\s+)?([a-zA-Z0-9_.\-@]+)`)
)

var serviceByApp = map[string]string{
	"sshd":     "ssh",
	"ssh":      "ssh",
	"nginx":    "web",
	"apache2":  "web",
	"httpd":    "web",
	"xrdp":     "rdp",
	"rdp":      "rdp",
	"openvpn":  "vpn",
	"ikev2":    "vpn",
	"api":      "api",
	"gateway":  "api",
}

const geoCacheTTL = time.Hour
const tenantCacheTTL = 5 * time.Minute

// TenantCIDR pairs a tenant with the CIDR blocks its traffic arrives
// from, used to build the longest-prefix match tree.
type TenantCIDR struct {
	TenantID string
	CIDRs    []string
}

// Enricher resolves tenant, classifies events, and attaches context.
type Enricher struct {
	mu          sync.RWMutex
	tree        *nradix.Tree
	builtAt     time.Time
	tenantCIDRs []TenantCIDR

	geo    GeoResolver
	substr state.Substrate

	unknownTenantCount int64
}

// New builds an Enricher. geo may be nil, in which case geo_country is
// never populated (treated the same as a GeoLookupTimeout per §7).
func New(geo GeoResolver, substr state.Substrate) *Enricher {
	return &Enricher{geo: geo, substr: substr}
}

// SetTenantCIDRs replaces the tenant CIDR table. Safe to call
// concurrently with Enrich; the tree swap is atomic under the mutex and
// readers never block a concurrent rebuild for more than the swap
// itself. The table changes only when this is called; nothing rebuilds
// it on a timer.
func (e *Enricher) SetTenantCIDRs(tenants []TenantCIDR) error {
	tree := nradix.NewTree(32)
	for _, t := range tenants {
		for _, c := range t.CIDRs {
			if err := tree.AddCIDR(c, t.TenantID); err != nil {
				return err
			}
		}
	}
	e.mu.Lock()
	e.tree = tree
	e.tenantCIDRs = tenants
	e.builtAt = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Enricher) resolveTenant(ip string) (string, bool) {
	e.mu.RLock()
	tree := e.tree
	e.mu.RUnlock()
	if tree == nil {
		return "", false
	}
	v, err := tree.FindCIDR(ip + "/32")
	if err != nil || v == nil {
		return "", false
	}
	tenant, ok := v.(string)
	return tenant, ok
}

// Enrich turns a ParsedEvent into an EnrichedEvent, or reports a
// DropReason. Steps follow §4.3 exactly: tenant resolution first (the
// only discard path), then classification, username extraction,
// service classification, geo lookup, device fingerprint.
func (e *Enricher) Enrich(ctx context.Context, p model.ParsedEvent) (model.EnrichedEvent, DropReason) {
	var srcStr string
	if p.SourceIP != nil {
		srcStr = p.SourceIP.String()
	}
	tenantID, ok := e.resolveTenant(srcStr)
	if !ok {
		e.mu.Lock()
		e.unknownTenantCount++
		e.mu.Unlock()
		return model.EnrichedEvent{}, DropUnknownTenant
	}

	ev := model.EnrichedEvent{
		ParsedEvent: p,
		TenantID:    tenantID,
		Tags:        make(map[string]struct{}),
	}

	ev.EventType = classify(p)
	ev.Username = extractUsername(p)
	ev.TargetService = classifyService(p.AppName)

	if e.geo != nil && srcStr != "" {
		if country, ok := e.geoCached(ctx, srcStr); ok {
			ev.GeoCountry = country
		}
	}

	if ua := structuredField(p, "user-agent"); ua != "" {
		ev.DeviceFingerprint = deviceFingerprint(ua, p.Hostname)
	}

	return ev, DropNone
}

// UnknownTenantCount returns the running discard counter.
func (e *Enricher) UnknownTenantCount() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unknownTenantCount
}

func classify(p model.ParsedEvent) model.EventType {
	if t := structuredEventType(p); t != "" {
		switch t {
		case "login_failure":
			return model.EventAuthFailure
		case "login_success":
			return model.EventAuthSuccess
		}
	}
	switch {
	case reAuthFailure.MatchString(p.Message):
		return model.EventAuthFailure
	case reAuthSuccess.MatchString(p.Message):
		return model.EventAuthSuccess
	case reFirewallApp.MatchString(p.AppName) && reSYNConnect.MatchString(p.Message):
		return model.EventPortConnect
	default:
		return model.EventOther
	}
}

func structuredEventType(p model.ParsedEvent) string {
	return structuredField(p, "event_type")
}

func structuredField(p model.ParsedEvent, key string) string {
	for _, fields := range p.StructuredData {
		if v, ok := fields[key]; ok {
			return v
		}
	}
	return ""
}

func extractUsername(p model.ParsedEvent) string {
	if u := structuredField(p, "username"); u != "" {
		return u
	}
	m := reUsername.FindStringSubmatch(p.Message)
	if len(m) == 3 {
		return m[2]
	}
	return ""
}

func classifyService(appName string) string {
	if svc, ok := serviceByApp[lower(appName)]; ok {
		return svc
	}
	return "other"
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func deviceFingerprint(userAgent, hostname string) string {
	sum := sha256.Sum256([]byte(userAgent + hostname))
	return hex.EncodeToString(sum[:])[:16]
}

func (e *Enricher) geoCached(ctx context.Context, ip string) (string, bool) {
	if e.substr == nil {
		country, err := e.geo(ip)
		return country, err == nil
	}
	key := "geo:" + ip
	if b, ok, err := e.substr.KV().Get(ctx, key); err == nil && ok {
		return string(b), true
	}
	country, err := e.geo(ip)
	if err != nil || country == "" {
		return "", false
	}
	_ = e.substr.KV().Set(ctx, key, []byte(country), geoCacheTTL)
	return country, true
}
