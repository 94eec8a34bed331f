/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package correlate implements the correlator (C8): it watches the
// stream of candidates out of detect/bruteforce and detect/portscan for
// a single source IP touching several users or services within a
// correlation window, and annotates C6's distributed findings with
// geographic spread. It is itself just another WindowStore consumer,
// same shape as the two upstream detectors.
package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/state"
)

const correlationSetCap = 512

// Detector implements §4.8.
type Detector struct {
	substr state.Substrate
	cfg    *siemconfig.Cache
}

func New(substr state.Substrate, cfg *siemconfig.Cache) *Detector {
	return &Detector{substr: substr, cfg: cfg}
}

func windowKey(tenantID, ip string) string { return fmt.Sprintf("corr:%s:%s", tenantID, ip) }

// touch encodes a (username, target_service) pair onto a single IP's
// window as the WindowEntry label, since WindowEntry carries only one
// string field.
func encodeTouch(username, targetService string) string {
	return username + "\x1f" + targetService
}

func decodeTouch(label string) (username, targetService string) {
	parts := strings.SplitN(label, "\x1f", 2)
	if len(parts) != 2 {
		return label, ""
	}
	return parts[0], parts[1]
}

// Handle processes one upstream candidate, returning zero or more
// correlation candidates for C9.
func (d *Detector) Handle(ctx context.Context, c candidate.Candidate) ([]candidate.Candidate, error) {
	switch v := c.(type) {
	case candidate.BruteForceCandidate:
		return d.handleBruteForce(ctx, v)
	case candidate.PortScanCandidate:
		return d.handlePortScan(ctx, v)
	default:
		return nil, nil
	}
}

func (d *Detector) handleBruteForce(ctx context.Context, c candidate.BruteForceCandidate) ([]candidate.Candidate, error) {
	var out []candidate.Candidate

	if c.Kind_ == candidate.KindBruteForceDistributed {
		if annotated, ok, err := d.annotateDistributed(ctx, c); err != nil {
			return nil, err
		} else if ok {
			out = append(out, annotated)
		}
		// distributed findings already span multiple IPs; the
		// single-IP sequential/parallel window below does not apply.
		return out, nil
	}

	if len(c.SourceIPs) != 1 {
		return out, nil
	}
	ip := c.SourceIPs[0]
	window, err := d.windowDuration(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}
	entries, err := d.substr.Windows().Append(ctx, windowKey(c.TenantID, ip), state.WindowEntry{At: c.LastEventAt, Label: encodeTouch(c.Username, c.TargetService)}, window, correlationSetCap)
	if err != nil {
		return nil, err
	}

	if seq := sequentialCandidate(c.TenantID, ip, c.Username, entries, c); seq != nil {
		out = append(out, *seq)
	}
	if par := parallelCandidate(c.TenantID, ip, entries, c); par != nil {
		out = append(out, *par)
	}
	return out, nil
}

func (d *Detector) handlePortScan(ctx context.Context, c candidate.PortScanCandidate) ([]candidate.Candidate, error) {
	window, err := d.windowDuration(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}
	// port scans carry no username or target_service; they still mark
	// the IP as active so a later brute-force touch on the same IP
	// sees accurate recent activity, but contribute no username/service
	// facet themselves.
	_, err = d.substr.Windows().Append(ctx, windowKey(c.TenantID, c.SourceIP), state.WindowEntry{At: c.LastEventAt, Label: encodeTouch("", "")}, window, correlationSetCap)
	return nil, err
}

func (d *Detector) windowDuration(ctx context.Context, tenantID string) (time.Duration, error) {
	tcfg, err := d.cfg.Get(tenantID)
	if err != nil {
		return 0, err
	}
	return tcfg.Correlation.Window(), nil
}

// sequentialCandidate implements §4.8's "one user, ≥2 distinct
// target_services, same source IP" pattern.
func sequentialCandidate(tenantID, ip, username string, entries []state.WindowEntry, src candidate.BruteForceCandidate) *candidate.CorrelationCandidate {
	if username == "" {
		return nil
	}
	services := make(map[string]struct{})
	for _, e := range entries {
		u, svc := decodeTouch(e.Label)
		if u != username || svc == "" {
			continue
		}
		services[svc] = struct{}{}
	}
	if len(services) < 2 {
		return nil
	}
	var svcList []string
	for s := range services {
		svcList = append(svcList, s)
	}
	return &candidate.CorrelationCandidate{
		TenantID:       tenantID,
		Kind_:          candidate.KindCorrelationSequential,
		SourceIPs:      []string{ip},
		Usernames:      []string{username},
		TargetServices: svcList,
		FirstEventAt:   firstAt(entries),
		LastEventAt:    src.LastEventAt,
		Conf:           src.Conf,
		Ev:             src.Ev,
	}
}

// parallelCandidate implements §4.8's "one source IP, ≥3 distinct
// users" pattern.
func parallelCandidate(tenantID, ip string, entries []state.WindowEntry, src candidate.BruteForceCandidate) *candidate.CorrelationCandidate {
	users := make(map[string]struct{})
	for _, e := range entries {
		u, _ := decodeTouch(e.Label)
		if u != "" {
			users[u] = struct{}{}
		}
	}
	if len(users) < 3 {
		return nil
	}
	var userList []string
	for u := range users {
		userList = append(userList, u)
	}
	return &candidate.CorrelationCandidate{
		TenantID:     tenantID,
		Kind_:        candidate.KindCorrelationParallel,
		SourceIPs:    []string{ip},
		Usernames:    userList,
		FirstEventAt: firstAt(entries),
		LastEventAt:  src.LastEventAt,
		Conf:         src.Conf,
		Ev:           src.Ev,
	}
}

// annotateDistributed implements §4.8's "annotate geographic spread"
// rule: it reuses the same geo cache the enricher populates (§4.3)
// rather than issuing its own lookups, so correlation never calls out
// to a GeoResolver directly.
func (d *Detector) annotateDistributed(ctx context.Context, c candidate.BruteForceCandidate) (candidate.CorrelationCandidate, bool, error) {
	countries := make(map[string]struct{})
	for _, ip := range c.SourceIPs {
		if b, ok, err := d.substr.KV().Get(ctx, "geo:"+ip); err == nil && ok {
			countries[string(b)] = struct{}{}
		}
	}
	if len(countries) < 2 {
		return candidate.CorrelationCandidate{}, false, nil
	}
	return candidate.CorrelationCandidate{
		TenantID:        c.TenantID,
		Kind_:           candidate.KindBruteForceDistributed,
		SourceIPs:       c.SourceIPs,
		Usernames:       []string{c.Username},
		DistinctCountry: len(countries),
		FirstEventAt:    c.FirstEventAt,
		LastEventAt:     c.LastEventAt,
		Conf:            c.Conf,
		Ev:              c.Ev,
	}, true, nil
}

func firstAt(entries []state.WindowEntry) time.Time {
	var first time.Time
	for _, e := range entries {
		if first.IsZero() || e.At.Before(first) {
			first = e.At
		}
	}
	return first
}
