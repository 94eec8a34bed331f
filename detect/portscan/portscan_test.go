/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package portscan

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/state/memstate"
)

type staticControlPlane struct{ cfg siemconfig.TenantConfig }

func (s staticControlPlane) TenantConfig(tenantID string) (siemconfig.TenantConfig, error) {
	return s.cfg, nil
}
func (s staticControlPlane) TenantIDs() ([]string, error) { return []string{s.cfg.TenantID}, nil }

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	cfg := siemconfig.DefaultTenantConfig("t2")
	cache := siemconfig.NewCache(staticControlPlane{cfg: cfg})
	return New(memstate.New(), cache)
}

func connectEvent(ip string, port int, at time.Time) model.EnrichedEvent {
	return model.EnrichedEvent{
		ParsedEvent: model.ParsedEvent{
			SourceIP:       net.ParseIP(ip),
			Timestamp:      at,
			StructuredData: map[string]map[string]string{"netfilter": {"port": strconv.Itoa(port)}},
		},
		TenantID:  "t2",
		EventType: model.EventPortConnect,
	}
}

func TestBelowThresholdNoAlert(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ports := []int{22, 23, 3389, 80, 443, 8080, 8443, 5985} // 8 ports, threshold is 10
	var cands []candidate.Candidate
	for i, p := range ports {
		c, err := d.Handle(ctx, connectEvent("198.51.100.10", p, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		cands = append(cands, c...)
	}
	require.Empty(t, cands)
}

// TestAdminServiceScanScenario mirrors the documented end-to-end
// scenario: ten distinct ports hit within 60s from one IP, with at
// least three admin-service ports present, classifies admin_service_scan
// at the highest severity tier.
func TestAdminServiceScanScenario(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ports := []int{22, 23, 3389, 80, 443, 8080, 8443, 5985, 5986, 445}
	var last []candidate.Candidate
	for i, p := range ports {
		c, err := d.Handle(ctx, connectEvent("198.51.100.10", p, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		if len(c) > 0 {
			last = c
		}
	}
	require.Len(t, last, 1)
	ps := last[0].(candidate.PortScanCandidate)
	require.Equal(t, candidate.PortScanAdmin, ps.Class)
	require.Equal(t, "198.51.100.10", ps.SourceIP)
	require.Len(t, ps.Ports, 10)
}

func TestWebScanClassification(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// 3 web ports (80, 8080, 8443 -- skipping 443 keeps the magnitude
	// spread at two buckets) plus filler in the same two buckets, so
	// fewer than 3 decade buckets are touched and the web rule wins
	// over comprehensive_scan.
	ports := []int{80, 81, 82, 83, 8080, 8081, 8082, 8083, 8443, 8444}
	var last []candidate.Candidate
	for i, p := range ports {
		c, err := d.Handle(ctx, connectEvent("198.51.100.20", p, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		if len(c) > 0 {
			last = c
		}
	}
	require.Len(t, last, 1)
	ps := last[0].(candidate.PortScanCandidate)
	require.Equal(t, candidate.PortScanWeb, ps.Class)
}

func TestComprehensiveScanClassification(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// spans many decade buckets, no bucket reaches 3 hits in either
	// named group.
	ports := []int{21, 25, 53, 110, 143, 389, 636, 993, 995, 1433}
	var last []candidate.Candidate
	for i, p := range ports {
		c, err := d.Handle(ctx, connectEvent("198.51.100.30", p, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		if len(c) > 0 {
			last = c
		}
	}
	require.Len(t, last, 1)
	ps := last[0].(candidate.PortScanCandidate)
	require.Equal(t, candidate.PortScanComprehensive, ps.Class)
}

func TestClassifyPrecedenceAdminOverComprehensive(t *testing.T) {
	// admin hits >= 3 and decade buckets >= 3: admin wins per §4.7's
	// admin >= comprehensive > web precedence.
	ports := []int{22, 23, 3389, 80, 443, 9001, 9002, 9003, 9004, 9005}
	require.Equal(t, candidate.PortScanAdmin, classify(ports))
}

func TestWindowEvictionBoundsPortSet(t *testing.T) {
	d := newTestDetector(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []int{22, 23, 3389, 5985} {
		_, err := d.Handle(ctx, connectEvent("198.51.100.40", p, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	// arrives after the 300s window: earlier ports must have evicted.
	late := connectEvent("198.51.100.40", 80, base.Add(400*time.Second))
	c, err := d.Handle(ctx, late)
	require.NoError(t, err)
	require.Empty(t, c)
}
