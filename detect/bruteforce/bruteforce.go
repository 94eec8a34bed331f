/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package bruteforce implements the brute-force detector (C6): two
// sliding-window views (per source IP, per username) over
// auth_failure/auth_success events, kept as state.WindowStore entries
// exactly as gravwell's own sliding-window preprocessors hold recent
// history keyed by a subject string, adapted here to the tenant+ip and
// tenant+user keys the detection rules require.
package bruteforce

import (
	"context"
	"fmt"
	"time"

	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/state"
)

// BaselineLookup is the narrow slice of baseline.Store the threshold
// adjustment rule needs, kept separate so this package does not import
// the baseline package's async-worker machinery.
type BaselineLookup interface {
	Get(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error)
}

// Detector implements §4.6's threshold and distributed-attack rules.
type Detector struct {
	substr   state.Substrate
	cfg      *siemconfig.Cache
	baseline BaselineLookup
}

// New builds a Detector.
func New(substr state.Substrate, cfg *siemconfig.Cache, baseline BaselineLookup) *Detector {
	return &Detector{substr: substr, cfg: cfg, baseline: baseline}
}

func ipWindowKey(tenantID, ip string) string  { return fmt.Sprintf("bf:ip:%s:%s", tenantID, ip) }
func userWindowKey(tenantID, u string) string { return fmt.Sprintf("bf:user:%s:%s", tenantID, u) }

// Handle processes one enriched event, returning zero or more
// candidates for C9. Only auth_failure and auth_success events are
// relevant; everything else is a no-op.
func (d *Detector) Handle(ctx context.Context, ev model.EnrichedEvent) ([]candidate.Candidate, error) {
	switch ev.EventType {
	case model.EventAuthFailure:
		return d.handleFailure(ctx, ev)
	case model.EventAuthSuccess:
		return nil, d.handleSuccess(ctx, ev)
	default:
		return nil, nil
	}
}

func (d *Detector) handleSuccess(ctx context.Context, ev model.EnrichedEvent) error {
	ip := ipString(ev)
	if ip == "" {
		return nil
	}
	// Reset rule (§4.6): clears the per-IP window only, never the
	// per-user distributed window.
	return d.substr.Windows().Clear(ctx, ipWindowKey(ev.TenantID, ip))
}

func (d *Detector) handleFailure(ctx context.Context, ev model.EnrichedEvent) ([]candidate.Candidate, error) {
	ip := ipString(ev)
	if ip == "" || ev.Username == "" {
		return nil, nil
	}
	tcfg, err := d.cfg.Get(ev.TenantID)
	if err != nil {
		return nil, err
	}
	bf := tcfg.BruteForce
	window := bf.Window()

	ipWin, err := d.substr.Windows().Append(ctx, ipWindowKey(ev.TenantID, ip), state.WindowEntry{At: ev.Timestamp, Label: ev.Username}, window, 0)
	if err != nil {
		return nil, err
	}
	userWin, err := d.substr.Windows().Append(ctx, userWindowKey(ev.TenantID, ev.Username), state.WindowEntry{At: ev.Timestamp, Label: ip}, window, 0)
	if err != nil {
		return nil, err
	}

	n := len(ipWin)
	threshold := d.thresholdFor(ctx, ev, bf)

	ev1 := model.EvidenceRef{Partition: ev.Partition, Offset: ev.Offset, TenantID: ev.TenantID, Timestamp: ev.Timestamp, SourceIP: ip, Username: ev.Username}

	distinctIPs := distinctLabels(userWin)
	totalUserFailures := len(userWin)

	distributedTriggered := len(distinctIPs) >= bf.DistributedMinIPs && totalUserFailures >= bf.DistributedThreshold
	singleTriggered := n >= threshold

	// Tie-break (§4.6): distributed wins when both trigger.
	if distributedTriggered {
		conf := confidenceFor(totalUserFailures, bf.DistributedThreshold)
		return []candidate.Candidate{candidate.BruteForceCandidate{
			TenantID:     ev.TenantID,
			Kind_:        candidate.KindBruteForceDistributed,
			SourceIPs:    distinctIPs,
			Username:     ev.Username,
			FailureCount: totalUserFailures,
			Threshold:    bf.DistributedThreshold,
			FirstEventAt: firstAt(userWin),
			LastEventAt:  ev.Timestamp,
			Conf:         conf,
			Ev:           []model.EvidenceRef{ev1},
		}}, nil
	}
	if singleTriggered {
		conf := confidenceFor(n, threshold)
		return []candidate.Candidate{candidate.BruteForceCandidate{
			TenantID:      ev.TenantID,
			Kind_:         candidate.KindBruteForceSingle,
			SourceIPs:     []string{ip},
			Username:      ev.Username,
			FailureCount:  n,
			Threshold:     threshold,
			FirstEventAt:  firstAt(ipWin),
			LastEventAt:   ev.Timestamp,
			Conf:          conf,
			Ev:            []model.EvidenceRef{ev1},
			TargetService: ev.TargetService,
		}}, nil
	}
	return nil, nil
}

// thresholdFor implements §4.6's T adjustment: service-account delta
// applies first, then familiar-context delta; both require a
// high-confidence baseline.
func (d *Detector) thresholdFor(ctx context.Context, ev model.EnrichedEvent, bf siemconfig.BruteForceConfig) int {
	t := bf.Threshold
	if d.baseline == nil {
		return t
	}
	b, found, err := d.baseline.Get(ctx, ev.TenantID, ev.Username)
	if err != nil || !found || !b.HighConfidence(10) {
		return t
	}
	if b.ProfileType == model.ProfileServiceAccount {
		t -= bf.ServiceAccountDelta
		if t < 2 {
			t = 2
		}
	}
	_, inHours := b.TypicalHours[ev.Timestamp.Hour()]
	inIPs := b.TypicalIPs != nil && b.TypicalIPs.Contains(ipString(ev))
	if inHours && inIPs {
		t += bf.FamiliarContextDelta
	}
	return t
}

// confidenceFor implements min(1, (n - T + 1) / T) from §4.6.
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

func distinctLabels(entries []state.WindowEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if _, ok := seen[e.Label]; ok {
			continue
		}
		seen[e.Label] = struct{}{}
		out = append(out, e.Label)
	}
	return out
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
