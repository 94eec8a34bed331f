/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package fpreduce implements false-positive reduction (C9): an
// ordered chain of suppression rules evaluated against every candidate
// from detect/bruteforce, detect/portscan, and correlate before it
// reaches the alert manager. The static-whitelist CIDR match reuses the
// same asergeyev/nradix longest-prefix tree the enricher builds for
// tenant resolution (enrich.Enricher.SetTenantCIDRs), just keyed on
// whitelist entries instead of tenant boundaries.
package fpreduce

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/asergeyev/nradix"

	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/state"
)

// BaselineLookup is the narrow slice of baseline.Store the
// service-account-tolerance and behavioral-match rules need.
type BaselineLookup interface {
	Get(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error)
}

// Decision is the outcome of running a candidate through the chain.
type Decision struct {
	Suppressed bool
	Reason     string
	Confidence float64
}

// Reducer implements §4.9.
type Reducer struct {
	substr   state.Substrate
	cfg      *siemconfig.Cache
	baseline BaselineLookup
	lg       *logx.Logger

	mu        sync.RWMutex
	whitelist map[string]*nradix.Tree // tenantID -> static CIDR/IP tree
}

func New(substr state.Substrate, cfg *siemconfig.Cache, baseline BaselineLookup, lg *logx.Logger) *Reducer {
	return &Reducer{substr: substr, cfg: cfg, baseline: baseline, lg: lg, whitelist: make(map[string]*nradix.Tree)}
}

// SetStaticWhitelist rebuilds one tenant's static CIDR/IP whitelist
// tree. Entries of any other WhitelistKind are ignored here, and no
// other rule matches them either (user-agent/username matching is not
// part of §4.9's rule chain as distilled).
func (r *Reducer) SetStaticWhitelist(tenantID string, entries []model.WhitelistEntry) error {
	tree := nradix.NewTree(32)
	for _, e := range entries {
		if e.Source != model.WhitelistStatic {
			continue
		}
		cidr := e.Value
		switch e.Kind {
		case model.WhitelistIP:
			cidr = e.Value + "/32"
		case model.WhitelistCIDR, model.WhitelistCIDRRange:
			// already a CIDR
		default:
			continue
		}
		if err := tree.AddCIDR(cidr, e.Value); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.whitelist[tenantID] = tree
	r.mu.Unlock()
	return nil
}

func (r *Reducer) staticMatch(tenantID, ip string) (string, bool) {
	r.mu.RLock()
	tree := r.whitelist[tenantID]
	r.mu.RUnlock()
	if tree == nil {
		return "", false
	}
	v, err := tree.FindCIDR(ip + "/32")
	if err != nil || v == nil {
		return "", false
	}
	entry, ok := v.(string)
	return entry, ok
}

func dynamicWhitelistSet(tenantID, ip string) string { return fmt.Sprintf("dynwl:%s:%s", tenantID, ip) }

// RecordSuccess registers a successful authentication toward the
// dynamic-whitelist threshold (§4.9 rule 2). Callers feed every
// auth_success event through this as it crosses the bus, independent
// of candidate evaluation.
func (r *Reducer) RecordSuccess(ctx context.Context, tenantID, ip string, at time.Time) error {
	tcfg, err := r.cfg.Get(tenantID)
	if err != nil {
		return err
	}
	member := strconv.FormatInt(at.UnixNano(), 10)
	return r.substr.TTL().Add(ctx, dynamicWhitelistSet(tenantID, ip), member, tcfg.DynamicWhitelist.TTL())
}

// fields is the candidate-shape-agnostic view the rule chain needs.
type fields struct {
	sourceIPs []string
	username  string // empty if the candidate spans more than one user
	n, t      int    // 0 if not applicable to this candidate kind
	now       time.Time
}

func extract(c candidate.Candidate) fields {
	switch v := c.(type) {
	case candidate.BruteForceCandidate:
		return fields{sourceIPs: v.SourceIPs, username: v.Username, n: v.FailureCount, t: v.Threshold, now: v.LastEventAt}
	case candidate.PortScanCandidate:
		return fields{sourceIPs: []string{v.SourceIP}, now: v.LastEventAt}
	case candidate.CorrelationCandidate:
		f := fields{sourceIPs: v.SourceIPs, now: v.LastEventAt}
		if len(v.Usernames) == 1 {
			f.username = v.Usernames[0]
		}
		return f
	default:
		return fields{}
	}
}

// Evaluate runs c through the §4.9 rule chain in order, stopping at the
// first match. Every decision is logged with its full reason for
// audit, whether suppressed or allowed-with-adjustment.
func (r *Reducer) Evaluate(ctx context.Context, c candidate.Candidate) (Decision, error) {
	f := extract(c)
	tenantID := c.Tenant()
	tcfg, err := r.cfg.Get(tenantID)
	if err != nil {
		return Decision{}, err
	}
	conf0 := c.Confidence()

	if entry, ok := r.matchStaticWhitelist(tenantID, f.sourceIPs); ok {
		reason := "static_whitelist:" + entry
		r.audit(tenantID, reason, true)
		return Decision{Suppressed: true, Reason: reason, Confidence: conf0}, nil
	}

	if suppressed, err := r.matchDynamicWhitelist(ctx, tenantID, f.sourceIPs, tcfg); err != nil {
		return Decision{}, err
	} else if suppressed {
		r.audit(tenantID, "dynamic_whitelist", true)
		return Decision{Suppressed: true, Reason: "dynamic_whitelist", Confidence: conf0}, nil
	}

	if f.username != "" && f.t > 0 {
		if suppressed, err := r.serviceAccountTolerance(ctx, tenantID, f); err != nil {
			return Decision{}, err
		} else if suppressed {
			r.audit(tenantID, "service_account_tolerance", true)
			return Decision{Suppressed: true, Reason: "service_account_tolerance", Confidence: conf0}, nil
		}

		if suppressed, err := r.behavioralMatch(ctx, tenantID, f, tcfg); err != nil {
			return Decision{}, err
		} else if suppressed {
			r.audit(tenantID, "behavioral_match", true)
			return Decision{Suppressed: true, Reason: "behavioral_match", Confidence: conf0}, nil
		}
	}

	conf := conf0
	if conf < 0.5 && tcfg.BusinessHours.Enabled && tcfg.BusinessHours.Within(f.now) {
		adjusted := conf - 0.2
		if adjusted < 0 {
			adjusted = 0
		}
		r.audit(tenantID, "business_hours_low_confidence", false)
		return Decision{Suppressed: false, Reason: "", Confidence: adjusted}, nil
	}

	if r.maintenanceWindowCovers(tcfg, f) {
		r.audit(tenantID, "maintenance_window", true)
		return Decision{Suppressed: true, Reason: "maintenance_window", Confidence: conf0}, nil
	}

	return Decision{Suppressed: false, Confidence: conf}, nil
}

func (r *Reducer) matchStaticWhitelist(tenantID string, ips []string) (string, bool) {
	for _, ip := range ips {
		if entry, ok := r.staticMatch(tenantID, ip); ok {
			return entry, true
		}
	}
	return "", false
}

func (r *Reducer) matchDynamicWhitelist(ctx context.Context, tenantID string, ips []string, tcfg siemconfig.TenantConfig) (bool, error) {
	for _, ip := range ips {
		n, err := r.substr.TTL().Count(ctx, dynamicWhitelistSet(tenantID, ip))
		if err != nil {
			return false, err
		}
		if n >= tcfg.DynamicWhitelist.SuccessThreshold {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reducer) serviceAccountTolerance(ctx context.Context, tenantID string, f fields) (bool, error) {
	if r.baseline == nil {
		return false, nil
	}
	b, found, err := r.baseline.Get(ctx, tenantID, f.username)
	if err != nil || !found {
		return false, err
	}
	if b.ProfileType != model.ProfileServiceAccount {
		return false, nil
	}
	const minConfSampleCap = 10
	if b.Confidence(minConfSampleCap) < 0.5 {
		return false, nil
	}
	return f.n <= f.t+1, nil
}

func (r *Reducer) behavioralMatch(ctx context.Context, tenantID string, f fields, tcfg siemconfig.TenantConfig) (bool, error) {
	if r.baseline == nil || len(f.sourceIPs) != 1 {
		return false, nil
	}
	b, found, err := r.baseline.Get(ctx, tenantID, f.username)
	if err != nil || !found || !b.HighConfidence(tcfg.Baseline.MinSampleCount) {
		return false, err
	}
	if b.TypicalIPs == nil || !b.TypicalIPs.Contains(f.sourceIPs[0]) {
		return false, nil
	}
	if _, ok := b.TypicalHours[f.now.Hour()]; !ok {
		return false, nil
	}
	return f.n <= f.t+2, nil
}

func (r *Reducer) maintenanceWindowCovers(tcfg siemconfig.TenantConfig, f fields) bool {
	for _, w := range tcfg.MaintenanceWindows {
		if !w.Active(f.now) {
			continue
		}
		for _, ip := range f.sourceIPs {
			if w.Authorizes(ip) {
				return true
			}
		}
	}
	return false
}

func (r *Reducer) audit(tenantID, reason string, suppressed bool) {
	if r.lg == nil {
		return
	}
	r.lg.Info("fp-reduction decision", logx.KVs("tenant", tenantID), logx.KVs("reason", reason), logx.KVs("suppressed", suppressed))
}
