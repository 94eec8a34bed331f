/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package candidate holds the shared vocabulary of detector findings
// that flow from the brute-force, port-scan, and correlation detectors
// into false-positive reduction. It exists precisely to break the
// cyclic dependency the source system had between threat detection and
// FP-reduction (spec.md §9): detectors import and produce these types,
// FP-reduction imports and consumes them, and this package never
// imports either of theirs.
package candidate

import (
	"time"

	"github.com/gravwell/siemcore/model"
)

// Kind discriminates the candidate shapes below.
type Kind string

const (
	KindBruteForceSingle      Kind = "brute_force_single_source"
	KindBruteForceDistributed Kind = "brute_force_distributed"
	KindPortScan              Kind = "port_scan"
	KindCorrelationSequential Kind = "cross_service"
	KindCorrelationParallel   Kind = "parallel"
)

// Candidate is the common shape every detector finding satisfies.
type Candidate interface {
	CandidateKind() Kind
	Tenant() string
	Confidence() float64
	Evidence() []model.EvidenceRef
}

// BruteForceCandidate is emitted by detect/bruteforce (C6).
type BruteForceCandidate struct {
	TenantID      string
	Kind_         Kind // single-source or distributed
	SourceIPs     []string
	Username      string
	FailureCount  int // n
	Threshold     int // T
	FirstEventAt  time.Time
	LastEventAt   time.Time
	Conf          float64
	Ev            []model.EvidenceRef
	TargetService string
}

func (c BruteForceCandidate) CandidateKind() Kind           { return c.Kind_ }
func (c BruteForceCandidate) Tenant() string                { return c.TenantID }
func (c BruteForceCandidate) Confidence() float64           { return c.Conf }
func (c BruteForceCandidate) Evidence() []model.EvidenceRef { return c.Ev }

// PortScanClass enumerates the §4.7 classification outcomes.
type PortScanClass string

const (
	PortScanAdmin         PortScanClass = "admin_service_scan"
	PortScanWeb           PortScanClass = "web_scan"
	PortScanComprehensive PortScanClass = "comprehensive_scan"
)

// PortScanCandidate is emitted by detect/portscan (C7).
type PortScanCandidate struct {
	TenantID     string
	SourceIP     string
	Ports        []int
	Class        PortScanClass
	FirstEventAt time.Time
	LastEventAt  time.Time
	Conf         float64
	Ev           []model.EvidenceRef

	// EventCount is the number of port_connect events observed in the
	// current window, distinct from len(Ports) (the distinct-port
	// count the threshold and classification are evaluated against).
	EventCount int
}

func (c PortScanCandidate) CandidateKind() Kind           { return KindPortScan }
func (c PortScanCandidate) Tenant() string                { return c.TenantID }
func (c PortScanCandidate) Confidence() float64           { return c.Conf }
func (c PortScanCandidate) Evidence() []model.EvidenceRef { return c.Ev }

// CorrelationCandidate is emitted by correlate (C8).
type CorrelationCandidate struct {
	TenantID        string
	Kind_           Kind
	SourceIPs       []string
	Usernames       []string
	TargetServices  []string
	DistinctCountry int
	FirstEventAt    time.Time
	LastEventAt     time.Time
	Conf            float64
	Ev              []model.EvidenceRef
}

func (c CorrelationCandidate) CandidateKind() Kind           { return c.Kind_ }
func (c CorrelationCandidate) Tenant() string                { return c.TenantID }
func (c CorrelationCandidate) Confidence() float64           { return c.Conf }
func (c CorrelationCandidate) Evidence() []model.EvidenceRef { return c.Ev }
