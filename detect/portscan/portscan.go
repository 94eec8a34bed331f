/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package portscan implements the port-scan detector (C7): a bounded
// per-(tenant, ip) port set over a sliding window, classified against
// the admin/web/comprehensive port buckets from §4.7. The bounded-set-
// over-window shape reuses the same state.WindowStore primitive as
// detect/bruteforce, keeping one state abstraction for every detector
// per the substrate's single-responsibility design (§4.11).
package portscan

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/state"
)

const portSetCap = 256

var adminPorts = map[int]struct{}{22: {}, 23: {}, 3389: {}, 5985: {}, 5986: {}}
var webPorts = map[int]struct{}{80: {}, 443: {}, 8080: {}, 8443: {}}

// Detector implements §4.7.
type Detector struct {
	substr state.Substrate
	cfg    *siemconfig.Cache
}

func New(substr state.Substrate, cfg *siemconfig.Cache) *Detector {
	return &Detector{substr: substr, cfg: cfg}
}

func windowKey(tenantID, ip string) string { return fmt.Sprintf("ps:%s:%s", tenantID, ip) }

// extractPort pulls the destination port from a structured_data "port"
// or "dpt" parameter; the enricher does not populate a dedicated
// DestPort field, so port-scan relies on the same structured_data
// convention as username/user-agent lookups elsewhere in the pipeline.
// A DPT= token in the free-text message (as iptables/netfilter logs
// write it) is not read, so such an event yields no port here.
func extractPort(ev model.EnrichedEvent) (int, bool) {
	for _, fields := range ev.StructuredData {
		if v, ok := fields["port"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
		if v, ok := fields["dpt"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func (d *Detector) Handle(ctx context.Context, ev model.EnrichedEvent) ([]candidate.Candidate, error) {
	if ev.EventType != model.EventPortConnect {
		return nil, nil
	}
	ip := ipString(ev)
	port, ok := extractPort(ev)
	if ip == "" || !ok {
		return nil, nil
	}
	tcfg, err := d.cfg.Get(ev.TenantID)
	if err != nil {
		return nil, err
	}
	ps := tcfg.PortScan

	win, err := d.substr.Windows().Append(ctx, windowKey(ev.TenantID, ip), state.WindowEntry{At: ev.Timestamp, Label: strconv.Itoa(port)}, ps.Window(), portSetCap)
	if err != nil {
		return nil, err
	}
	ports := distinctPorts(win)
	if len(ports) < ps.Threshold {
		return nil, nil
	}
	class := classify(ports)
	ev1 := model.EvidenceRef{Partition: ev.Partition, Offset: ev.Offset, TenantID: ev.TenantID, Timestamp: ev.Timestamp, SourceIP: ip, Username: ev.Username}
	return []candidate.Candidate{candidate.PortScanCandidate{
		TenantID:     ev.TenantID,
		SourceIP:     ip,
		Ports:        ports,
		Class:        class,
		FirstEventAt: firstAt(win),
		LastEventAt:  ev.Timestamp,
		Conf:         confidenceFor(len(ports), ps.Threshold),
		Ev:           []model.EvidenceRef{ev1},
		EventCount:   len(win),
	}}, nil
}

func distinctPorts(entries []state.WindowEntry) []int {
	seen := make(map[string]struct{})
	var out []int
	for _, e := range entries {
		if _, ok := seen[e.Label]; ok {
			continue
		}
		seen[e.Label] = struct{}{}
		if n, err := strconv.Atoi(e.Label); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// classify implements §4.7's admin ≥ comprehensive > web precedence.
func classify(ports []int) candidate.PortScanClass {
	adminHits := countIn(ports, adminPorts)
	webHits := countIn(ports, webPorts)
	decades := countDecadeBuckets(ports)

	switch {
	case adminHits >= 3:
		return candidate.PortScanAdmin
	case decades >= 3:
		return candidate.PortScanComprehensive
	case webHits >= 3:
		return candidate.PortScanWeb
	default:
		// threshold was met on sheer count without hitting a named
		// bucket; treat as comprehensive, the broadest category.
		return candidate.PortScanComprehensive
	}
}

func countIn(ports []int, set map[int]struct{}) int {
	n := 0
	for _, p := range ports {
		if _, ok := set[p]; ok {
			n++
		}
	}
	return n
}

// countDecadeBuckets buckets ports by order of magnitude (1-9, 10-99,
// 100-999, ...), the conventional sense of "decade" on a log scale.
func countDecadeBuckets(ports []int) int {
	buckets := make(map[int]struct{})
	for _, p := range ports {
		buckets[magnitude(p)] = struct{}{}
	}
	return len(buckets)
}

func magnitude(p int) int {
	if p <= 0 {
		return 0
	}
	n := 0
	for p >= 10 {
		p /= 10
		n++
	}
	return n
}

func confidenceFor(n, t int) float64 {
	if t <= 0 {
		return 1
	}
	c := float64(n-t+1) / float64(t)
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
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

func ipString(ev model.EnrichedEvent) string {
	if ev.SourceIP == nil {
		return ""
	}
	return ev.SourceIP.String()
}
