/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sqlstore is the durable store.* implementation: alerts,
// baselines, whitelists, and the append-only event archive, all backed
// by modernc.org/sqlite through jmoiron/sqlx the way the rest of the
// pipeline prefers a real driver over a hand-rolled encoding. Schema
// is applied inline with CREATE TABLE IF NOT EXISTS on Open, the same
// "no migration runner" choice the teacher makes for its own embedded
// state (cache.go's bolt bucket is created the same way, on open, with
// no separate migration step).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	confidence REAL NOT NULL,
	source_ips TEXT NOT NULL,
	usernames TEXT NOT NULL,
	first_event_at INTEGER NOT NULL,
	last_event_at INTEGER NOT NULL,
	event_count INTEGER NOT NULL,
	evidence TEXT NOT NULL,
	status TEXT NOT NULL,
	suppression_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_tenant_last_event ON alerts(tenant_id, last_event_at DESC);

CREATE TABLE IF NOT EXISTS baselines (
	tenant_id TEXT NOT NULL,
	username TEXT NOT NULL,
	typical_hours TEXT NOT NULL,
	typical_days TEXT NOT NULL,
	typical_countries TEXT NOT NULL,
	typical_ips TEXT NOT NULL,
	typical_devices TEXT NOT NULL,
	avg_daily_logins REAL NOT NULL,
	stdev_daily_logins REAL NOT NULL,
	welford_mean REAL NOT NULL,
	welford_m2 REAL NOT NULL,
	welford_count INTEGER NOT NULL,
	avg_failure_rate REAL NOT NULL,
	profile_type TEXT NOT NULL,
	sample_count INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, username)
);

CREATE TABLE IF NOT EXISTS whitelists (
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	source TEXT NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (tenant_id, kind, value)
);

CREATE TABLE IF NOT EXISTS events (
	tenant_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	source_ip TEXT NOT NULL DEFAULT '',
	target_service TEXT NOT NULL DEFAULT '',
	partition_id INTEGER NOT NULL DEFAULT 0,
	offset_id INTEGER NOT NULL DEFAULT 0,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events(tenant_id, ts);
`

// Store implements store.AlertStore, store.BaselineStore,
// store.WhitelistStore, and store.EventStore.
type Store struct {
	db *sqlx.DB
}

// Open creates or attaches to a sqlite database file at path and
// applies the schema. path may be ":memory:" for ephemeral use in
// tests that still want to exercise the real SQL paths.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type alertRow struct {
	ID                string `db:"id"`
	TenantID          string `db:"tenant_id"`
	Kind              string `db:"kind"`
	Severity          string `db:"severity"`
	Confidence        float64 `db:"confidence"`
	SourceIPs         string `db:"source_ips"`
	Usernames         string `db:"usernames"`
	FirstEventAt      int64  `db:"first_event_at"`
	LastEventAt       int64  `db:"last_event_at"`
	EventCount        int    `db:"event_count"`
	Evidence          string `db:"evidence"`
	Status            string `db:"status"`
	SuppressionReason string `db:"suppression_reason"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
}

func toAlertRow(a model.Alert) (alertRow, error) {
	ips, err := json.Marshal(a.SourceIPs)
	if err != nil {
		return alertRow{}, err
	}
	users, err := json.Marshal(a.Usernames)
	if err != nil {
		return alertRow{}, err
	}
	ev, err := json.Marshal(a.Evidence)
	if err != nil {
		return alertRow{}, err
	}
	return alertRow{
		ID: a.ID, TenantID: a.TenantID, Kind: string(a.Kind), Severity: string(a.Severity),
		Confidence: a.Confidence, SourceIPs: string(ips), Usernames: string(users),
		FirstEventAt: a.FirstEventAt.UnixNano(), LastEventAt: a.LastEventAt.UnixNano(),
		EventCount: a.EventCount, Evidence: string(ev), Status: string(a.Status),
		SuppressionReason: a.SuppressionReason,
		CreatedAt:         a.CreatedAt.UnixNano(), UpdatedAt: a.UpdatedAt.UnixNano(),
	}, nil
}

func fromAlertRow(r alertRow) (model.Alert, error) {
	var ips, users []string
	var ev []model.EvidenceRef
	if err := json.Unmarshal([]byte(r.SourceIPs), &ips); err != nil {
		return model.Alert{}, err
	}
	if err := json.Unmarshal([]byte(r.Usernames), &users); err != nil {
		return model.Alert{}, err
	}
	if err := json.Unmarshal([]byte(r.Evidence), &ev); err != nil {
		return model.Alert{}, err
	}
	return model.Alert{
		ID: r.ID, TenantID: r.TenantID, Kind: model.AlertKind(r.Kind), Severity: model.Severity(r.Severity),
		Confidence: r.Confidence, SourceIPs: ips, Usernames: users,
		FirstEventAt: time.Unix(0, r.FirstEventAt).UTC(), LastEventAt: time.Unix(0, r.LastEventAt).UTC(),
		EventCount: r.EventCount, Evidence: ev, Status: model.AlertStatus(r.Status),
		SuppressionReason: r.SuppressionReason,
		CreatedAt:         time.Unix(0, r.CreatedAt).UTC(), UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}, nil
}

func (s *Store) Get(ctx context.Context, fingerprint string) (model.Alert, bool, error) {
	var r alertRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM alerts WHERE id = ?`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, false, nil
	}
	if err != nil {
		return model.Alert{}, false, err
	}
	a, err := fromAlertRow(r)
	return a, true, err
}

func (s *Store) Put(ctx context.Context, a model.Alert) error {
	r, err := toAlertRow(a)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO alerts (id, tenant_id, kind, severity, confidence, source_ips, usernames,
			first_event_at, last_event_at, event_count, evidence, status, suppression_reason,
			created_at, updated_at)
		VALUES (:id, :tenant_id, :kind, :severity, :confidence, :source_ips, :usernames,
			:first_event_at, :last_event_at, :event_count, :evidence, :status, :suppression_reason,
			:created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			severity=excluded.severity, confidence=excluded.confidence,
			source_ips=excluded.source_ips, usernames=excluded.usernames,
			last_event_at=excluded.last_event_at, event_count=excluded.event_count,
			evidence=excluded.evidence, status=excluded.status,
			suppression_reason=excluded.suppression_reason, updated_at=excluded.updated_at
	`, r)
	return err
}

func (s *Store) List(ctx context.Context, tenantID string, filter store.AlertFilter) ([]model.Alert, error) {
	query := `SELECT * FROM alerts WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*filter.Kind))
	}
	query += ` ORDER BY last_event_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := fromAlertRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) CountSince(ctx context.Context, tenantID string, since time.Time) (total, suppressed, active int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status NOT IN (?, ?) THEN 1 ELSE 0 END)
		FROM alerts WHERE tenant_id = ? AND last_event_at >= ?
	`, string(model.StatusSuppressed), string(model.StatusResolved), string(model.StatusFalsePositive), tenantID, since.UnixNano())

	var suppressedN, activeN sql.NullInt64
	if err = row.Scan(&total, &suppressedN, &activeN); err != nil {
		return 0, 0, 0, err
	}
	return total, int(suppressedN.Int64), int(activeN.Int64), nil
}

const (
	typicalCountriesCap = 10
	typicalIPsCap       = 50
	typicalDevicesCap   = 20
)

type baselineRow struct {
	TenantID          string  `db:"tenant_id"`
	Username          string  `db:"username"`
	TypicalHours      string  `db:"typical_hours"`
	TypicalDays       string  `db:"typical_days"`
	TypicalCountries  string  `db:"typical_countries"`
	TypicalIPs        string  `db:"typical_ips"`
	TypicalDevices    string  `db:"typical_devices"`
	AvgDailyLogins    float64 `db:"avg_daily_logins"`
	StdevDailyLogins  float64 `db:"stdev_daily_logins"`
	WelfordMean       float64 `db:"welford_mean"`
	WelfordM2         float64 `db:"welford_m2"`
	WelfordCount      int64   `db:"welford_count"`
	AvgFailureRate    float64 `db:"avg_failure_rate"`
	ProfileType       string  `db:"profile_type"`
	SampleCount       int     `db:"sample_count"`
	UpdatedAt         int64   `db:"updated_at"`
}

func intSetToSlice(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sliceToIntSet(s []int) map[int]struct{} {
	m := make(map[int]struct{}, len(s))
	for _, v := range s {
		m[v] = struct{}{}
	}
	return m
}

func toBaselineRow(b model.UserBaseline) (baselineRow, error) {
	hours, err := json.Marshal(intSetToSlice(b.TypicalHours))
	if err != nil {
		return baselineRow{}, err
	}
	days, err := json.Marshal(intSetToSlice(b.TypicalDays))
	if err != nil {
		return baselineRow{}, err
	}
	var countries, ips, devices []string
	if b.TypicalCountries != nil {
		countries = b.TypicalCountries.Members()
	}
	if b.TypicalIPs != nil {
		ips = b.TypicalIPs.Members()
	}
	if b.TypicalDevices != nil {
		devices = b.TypicalDevices.Members()
	}
	cb, err := json.Marshal(countries)
	if err != nil {
		return baselineRow{}, err
	}
	ib, err := json.Marshal(ips)
	if err != nil {
		return baselineRow{}, err
	}
	db, err := json.Marshal(devices)
	if err != nil {
		return baselineRow{}, err
	}
	mean, m2, count := b.WelfordState()
	return baselineRow{
		TenantID: b.TenantID, Username: b.Username,
		TypicalHours: string(hours), TypicalDays: string(days),
		TypicalCountries: string(cb), TypicalIPs: string(ib), TypicalDevices: string(db),
		AvgDailyLogins: b.AvgDailyLogins, StdevDailyLogins: b.StdevDailyLogins,
		WelfordMean: mean, WelfordM2: m2, WelfordCount: count,
		AvgFailureRate: b.AvgFailureRate, ProfileType: string(b.ProfileType),
		SampleCount: b.SampleCount, UpdatedAt: b.UpdatedAt.UnixNano(),
	}, nil
}

func fromBaselineRow(r baselineRow) (model.UserBaseline, error) {
	var hours, days []int
	var countries, ips, devices []string
	if err := json.Unmarshal([]byte(r.TypicalHours), &hours); err != nil {
		return model.UserBaseline{}, err
	}
	if err := json.Unmarshal([]byte(r.TypicalDays), &days); err != nil {
		return model.UserBaseline{}, err
	}
	if err := json.Unmarshal([]byte(r.TypicalCountries), &countries); err != nil {
		return model.UserBaseline{}, err
	}
	if err := json.Unmarshal([]byte(r.TypicalIPs), &ips); err != nil {
		return model.UserBaseline{}, err
	}
	if err := json.Unmarshal([]byte(r.TypicalDevices), &devices); err != nil {
		return model.UserBaseline{}, err
	}

	countrySet := model.NewLRUSet(typicalCountriesCap)
	for _, c := range countries {
		countrySet.Add(c)
	}
	ipSet := model.NewLRUSet(typicalIPsCap)
	for _, ip := range ips {
		ipSet.Add(ip)
	}
	deviceSet := model.NewLRUSet(typicalDevicesCap)
	for _, d := range devices {
		deviceSet.Add(d)
	}

	b := model.UserBaseline{
		TenantID: r.TenantID, Username: r.Username,
		TypicalHours: sliceToIntSet(hours), TypicalDays: sliceToIntSet(days),
		TypicalCountries: countrySet, TypicalIPs: ipSet, TypicalDevices: deviceSet,
		AvgDailyLogins: r.AvgDailyLogins, StdevDailyLogins: r.StdevDailyLogins,
		AvgFailureRate: r.AvgFailureRate, ProfileType: model.ProfileType(r.ProfileType),
		SampleCount: r.SampleCount, UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
	b.RestoreWelfordState(r.WelfordMean, r.WelfordM2, r.WelfordCount)
	return b, nil
}

func (s *Store) GetBaseline(ctx context.Context, tenantID, username string) (model.UserBaseline, bool, error) {
	var r baselineRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM baselines WHERE tenant_id = ? AND username = ?`, tenantID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserBaseline{}, false, nil
	}
	if err != nil {
		return model.UserBaseline{}, false, err
	}
	b, err := fromBaselineRow(r)
	return b, true, err
}

func (s *Store) PutBaseline(ctx context.Context, b model.UserBaseline) error {
	r, err := toBaselineRow(b)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO baselines (tenant_id, username, typical_hours, typical_days, typical_countries,
			typical_ips, typical_devices, avg_daily_logins, stdev_daily_logins, welford_mean,
			welford_m2, welford_count, avg_failure_rate, profile_type, sample_count, updated_at)
		VALUES (:tenant_id, :username, :typical_hours, :typical_days, :typical_countries,
			:typical_ips, :typical_devices, :avg_daily_logins, :stdev_daily_logins, :welford_mean,
			:welford_m2, :welford_count, :avg_failure_rate, :profile_type, :sample_count, :updated_at)
		ON CONFLICT(tenant_id, username) DO UPDATE SET
			typical_hours=excluded.typical_hours, typical_days=excluded.typical_days,
			typical_countries=excluded.typical_countries, typical_ips=excluded.typical_ips,
			typical_devices=excluded.typical_devices, avg_daily_logins=excluded.avg_daily_logins,
			stdev_daily_logins=excluded.stdev_daily_logins, welford_mean=excluded.welford_mean,
			welford_m2=excluded.welford_m2, welford_count=excluded.welford_count,
			avg_failure_rate=excluded.avg_failure_rate, profile_type=excluded.profile_type,
			sample_count=excluded.sample_count, updated_at=excluded.updated_at
	`, r)
	return err
}

type whitelistRow struct {
	TenantID  string         `db:"tenant_id"`
	Kind      string         `db:"kind"`
	Value     string         `db:"value"`
	Source    string         `db:"source"`
	ExpiresAt sql.NullInt64  `db:"expires_at"`
}

func (s *Store) ListWhitelist(ctx context.Context, tenantID string) ([]model.WhitelistEntry, error) {
	var rows []whitelistRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM whitelists WHERE tenant_id = ?`, tenantID); err != nil {
		return nil, err
	}
	out := make([]model.WhitelistEntry, 0, len(rows))
	for _, r := range rows {
		e := model.WhitelistEntry{TenantID: r.TenantID, Kind: model.WhitelistKind(r.Kind), Value: r.Value, Source: model.WhitelistSource(r.Source)}
		if r.ExpiresAt.Valid {
			t := time.Unix(0, r.ExpiresAt.Int64).UTC()
			e.ExpiresAt = &t
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) AddWhitelist(ctx context.Context, entry model.WhitelistEntry) error {
	var expires sql.NullInt64
	if entry.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: entry.ExpiresAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelists (tenant_id, kind, value, source, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, kind, value) DO UPDATE SET source=excluded.source, expires_at=excluded.expires_at
	`, entry.TenantID, string(entry.Kind), entry.Value, string(entry.Source), expires)
	return err
}

func (s *Store) RemoveWhitelist(ctx context.Context, tenantID string, kind model.WhitelistKind, value string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM whitelists WHERE tenant_id = ? AND kind = ? AND value = ?`, tenantID, string(kind), value)
	return err
}

func (s *Store) Append(ctx context.Context, ev model.EnrichedEvent) error {
	var ip string
	if ev.SourceIP != nil {
		ip = ev.SourceIP.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (tenant_id, event_type, username, source_ip, target_service, partition_id, offset_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.TenantID, string(ev.EventType), ev.Username, ip, ev.TargetService, ev.Partition, ev.Offset, ev.Timestamp.UnixNano())
	return err
}

func (s *Store) CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM events WHERE tenant_id = ? AND ts >= ?`, tenantID, since.UnixNano())
	return n, err
}
