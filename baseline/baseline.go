/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package baseline implements the baseline store (C5): per-(tenant,
// user) behavioral profiles, updated asynchronously off the detector
// hot path by a background worker. The drop-on-overflow bounded queue
// feeding that worker is grounded on the teacher's own "never block
// the hot path" convention for background maintenance work (the
// kafka_consumer's periodic-flush ticker and SimpleRelay's preprocessor
// flush-on-shutdown both decouple a slow path from the fast one the
// same way).
package baseline

import (
	"context"
	"math"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/model"
)

// Store is the baseline store's public surface (§4.5).
type Store interface {
	Get(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error)
	UpdateIncremental(tenantID, username string, ev model.EnrichedEvent)
	Rebuild(ctx context.Context, tenantID, username string, history []model.EnrichedEvent) error
}

// Backend persists baselines; store/sqlstore and store/memstore both
// implement it.
type Backend interface {
	GetBaseline(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error)
	PutBaseline(ctx context.Context, b model.UserBaseline) error
}

const (
	queueCapacity      = 4096
	typicalHoursCap    = 24
	typicalCountryCap  = 10
	typicalIPCap       = 50
	typicalDeviceCap   = 20
	ewmaAlpha          = 0.1
	serviceAcctMinLogs = 20
	serviceAcctStdev   = 2 * time.Hour
)

var (
	reServiceUsername  = regexp.MustCompile(`(?i)(service|api|system|bot|monitor)`)
	reServiceUserAgent = regexp.MustCompile(`(?i)(curl|python-requests|java/|go-http)`)
)

type incrementalUpdate struct {
	tenantID string
	username string
	ev       model.EnrichedEvent
}

// Worker is the asynchronous baseline updater (C5's background
// worker). Detectors call UpdateIncremental, which never blocks: a
// full queue drops the update and increments a counter, per §5's
// "never block detectors" policy for baseline updates.
type Worker struct {
	backend Backend
	lg      *logx.Logger
	queue   chan incrementalUpdate

	dropped prometheus.Counter
}

// New builds a Worker. Call Run in its own goroutine to start draining
// the queue.
func New(backend Backend, lg *logx.Logger, dropCounter prometheus.Counter) *Worker {
	return &Worker{
		backend: backend,
		lg:      lg,
		queue:   make(chan incrementalUpdate, queueCapacity),
		dropped: dropCounter,
	}
}

// Get reads straight through to the backend; callers needing
// suppression-grade confidence must check HighConfidence themselves.
func (w *Worker) Get(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error) {
	return w.backend.GetBaseline(ctx, tenantID, username)
}

// UpdateIncremental enqueues an asynchronous update; see §4.5's
// incremental update rule, which only learns from auth_success.
// Non-blocking: drops under backpressure.
func (w *Worker) UpdateIncremental(tenantID, username string, ev model.EnrichedEvent) {
	if ev.EventType != model.EventAuthSuccess {
		return
	}
	select {
	case w.queue <- incrementalUpdate{tenantID: tenantID, username: username, ev: ev}:
	default:
		if w.dropped != nil {
			w.dropped.Inc()
		}
		if w.lg != nil {
			w.lg.Warn("baseline update queue full, dropping", logx.KVs("tenant", tenantID), logx.KVs("user", username))
		}
	}
}

// Run drains the update queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.queue:
			w.apply(ctx, u)
		}
	}
}

func (w *Worker) apply(ctx context.Context, u incrementalUpdate) {
	b, found, err := w.backend.GetBaseline(ctx, u.tenantID, u.username)
	if err != nil {
		if w.lg != nil {
			w.lg.Error("baseline read failed", logx.KVErr(err))
		}
		return
	}
	if !found {
		b = model.UserBaseline{
			TenantID:         u.tenantID,
			Username:         u.username,
			TypicalHours:     make(map[int]struct{}),
			TypicalDays:      make(map[int]struct{}),
			TypicalCountries: model.NewLRUSet(typicalCountryCap),
			TypicalIPs:       model.NewLRUSet(typicalIPCap),
			TypicalDevices:   model.NewLRUSet(typicalDeviceCap),
			ProfileType:      model.ProfileUnknown,
		}
	}
	applyIncremental(&b, u.ev)
	b.UpdatedAt = time.Now()
	if err := w.backend.PutBaseline(ctx, b); err != nil && w.lg != nil {
		w.lg.Error("baseline write failed", logx.KVErr(err))
	}
}

// applyIncremental implements §4.5's per-auth_success update rule.
func applyIncremental(b *model.UserBaseline, ev model.EnrichedEvent) {
	hour := ev.Timestamp.Hour()
	trimToCap(b.TypicalHours, hour, typicalHoursCap)

	if ev.GeoCountry != "" {
		b.TypicalCountries.Add(ev.GeoCountry)
	}
	if ev.SourceIP != nil {
		b.TypicalIPs.Add(ev.SourceIP.String())
	}
	if ev.DeviceFingerprint != "" {
		b.TypicalDevices.Add(ev.DeviceFingerprint)
	}

	b.ObserveDailyLoginCount(1)
	b.ObserveFailureOutcome(ev.EventType == model.EventAuthFailure, ewmaAlpha)
	b.SampleCount++
}

// trimToCap adds v to the set and evicts an arbitrary member once the
// set exceeds cap; map iteration order is unspecified, which is
// acceptable here since §4.5 only bounds set size, not which member is
// evicted first.
func trimToCap(set map[int]struct{}, v, cap int) {
	if _, ok := set[v]; ok {
		return
	}
	set[v] = struct{}{}
	for len(set) > cap {
		for k := range set {
			delete(set, k)
			break
		}
	}
}

// Rebuild recomputes a baseline from history, including profile_type,
// which is only ever (re)computed here per §4.5.
func (w *Worker) Rebuild(ctx context.Context, tenantID, username string, history []model.EnrichedEvent) error {
	b := model.UserBaseline{
		TenantID:         tenantID,
		Username:         username,
		TypicalHours:     make(map[int]struct{}),
		TypicalDays:      make(map[int]struct{}),
		TypicalCountries: model.NewLRUSet(typicalCountryCap),
		TypicalIPs:       model.NewLRUSet(typicalIPCap),
		TypicalDevices:   model.NewLRUSet(typicalDeviceCap),
	}
	var uaHits int
	var loginHours []int
	for _, ev := range history {
		if ev.EventType != model.EventAuthSuccess {
			continue
		}
		applyIncremental(&b, ev)
		loginHours = append(loginHours, ev.Timestamp.Hour())
		if ev.DeviceFingerprint != "" {
			uaHits++
		}
	}
	b.ProfileType = classifyProfile(username, loginHours, uaMatchesServiceAgent(history))
	b.UpdatedAt = time.Now()
	return w.backend.PutBaseline(ctx, b)
}

func uaMatchesServiceAgent(history []model.EnrichedEvent) bool {
	for _, ev := range history {
		for _, fields := range ev.StructuredData {
			if ua, ok := fields["user-agent"]; ok && reServiceUserAgent.MatchString(ua) {
				return true
			}
		}
	}
	return false
}

func classifyProfile(username string, loginHours []int, uaMatch bool) model.ProfileType {
	if reServiceUsername.MatchString(username) || uaMatch {
		return model.ProfileServiceAccount
	}
	if len(loginHours) >= serviceAcctMinLogs && stdevHours(loginHours) < float64(serviceAcctStdev/time.Hour) {
		return model.ProfileServiceAccount
	}
	return model.ProfileHuman
}

func stdevHours(hours []int) float64 {
	if len(hours) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hours {
		sum += float64(h)
	}
	mean := sum / float64(len(hours))
	var sq float64
	for _, h := range hours {
		d := float64(h) - mean
		sq += d * d
	}
	variance := sq / float64(len(hours))
	return math.Sqrt(variance)
}
