/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package siemconfig holds the process-wide and tenant-scoped
// configuration structures, loaded the way the teacher's ingest/config
// package loads ingester configs: a typed struct populated from YAML,
// validated once before use, with a 5-second cache TTL on
// control-plane-sourced tenant policy (§6).
package siemconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenerConfig describes one syslog bind point (§4.1/§6).
type ListenerConfig struct {
	Name      string `yaml:"name"`
	BindAddr  string `yaml:"bind_addr"`
	Transport string `yaml:"transport"` // udp | tcp | tls
	CertFile  string `yaml:"cert_file,omitempty"`
	KeyFile   string `yaml:"key_file,omitempty"`
	ClientCA  string `yaml:"client_ca,omitempty"` // optional client-cert auth
}

// ProcessConfig is process-wide, immutable after start (§6).
type ProcessConfig struct {
	Listeners       []ListenerConfig `yaml:"listeners"`
	IngressBuffer   int              `yaml:"ingress_buffer"`
	Partitions      int              `yaml:"partitions"`
	BusBackend      string           `yaml:"bus_backend"`   // memory | sarama
	StateBackend    string           `yaml:"state_backend"` // memory | redis
	StoreBackend    string           `yaml:"store_backend"` // memory | sqlite
	SaramaBrokers   []string         `yaml:"sarama_brokers,omitempty"`
	RedisAddr       string           `yaml:"redis_addr,omitempty"`
	SQLitePath      string           `yaml:"sqlite_path,omitempty"`
	VisibilityTimeout time.Duration  `yaml:"visibility_timeout"`
}

func (p *ProcessConfig) setDefaults() {
	if p.IngressBuffer == 0 {
		p.IngressBuffer = 10000
	}
	if p.Partitions == 0 {
		p.Partitions = 16
	}
	if p.BusBackend == "" {
		p.BusBackend = "memory"
	}
	if p.StateBackend == "" {
		p.StateBackend = "memory"
	}
	if p.StoreBackend == "" {
		p.StoreBackend = "memory"
	}
	if p.VisibilityTimeout == 0 {
		p.VisibilityTimeout = 30 * time.Second
	}
}

func (p ProcessConfig) validate() error {
	if p.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive")
	}
	for _, l := range p.Listeners {
		switch l.Transport {
		case "udp", "tcp", "tls":
		default:
			return fmt.Errorf("listener %q: invalid transport %q", l.Name, l.Transport)
		}
		if l.Transport == "tls" && (l.CertFile == "" || l.KeyFile == "") {
			return fmt.Errorf("listener %q: tls requires cert_file and key_file", l.Name)
		}
	}
	return nil
}

// LoadProcessConfig reads and validates the process-wide YAML config,
// mirroring validate.ValidateConfig(GetConfig, ...) from the teacher.
func LoadProcessConfig(path string) (ProcessConfig, error) {
	var cfg ProcessConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// BruteForceConfig is the §6 brute_force.* configuration group.
type BruteForceConfig struct {
	Threshold              int           `yaml:"threshold"`
	WindowSeconds          int           `yaml:"window_seconds"`
	DistributedMinIPs      int           `yaml:"distributed_min_ips"`
	DistributedThreshold   int           `yaml:"distributed_threshold"`
	ServiceAccountDelta    int           `yaml:"service_account_delta"`
	FamiliarContextDelta   int           `yaml:"familiar_context_delta"`
}

func (b BruteForceConfig) Window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// PortScanConfig is the §6 port_scan.* configuration group.
type PortScanConfig struct {
	Threshold     int `yaml:"threshold"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (p PortScanConfig) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// CorrelationConfig is the §6 correlation.* configuration group.
type CorrelationConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
}

func (c CorrelationConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// BaselineConfig is the §6 baseline.* configuration group.
type BaselineConfig struct {
	MinSampleCount      int `yaml:"min_sample_count"`
	ConfidenceCapSample int `yaml:"confidence_cap_sample"`
}

// DynamicWhitelistConfig is the §6 fp.dynamic_whitelist.* group.
type DynamicWhitelistConfig struct {
	SuccessThreshold int `yaml:"success_threshold"`
	TTLHours         int `yaml:"ttl_hours"`
}

func (d DynamicWhitelistConfig) TTL() time.Duration {
	return time.Duration(d.TTLHours) * time.Hour
}

// BusinessHours is a tenant's configured operating window, evaluated in
// the tenant's local time zone.
type BusinessHours struct {
	Enabled   bool   `yaml:"enabled"`
	Timezone  string `yaml:"timezone"`
	StartHour int    `yaml:"start_hour"` // 0-23
	EndHour   int    `yaml:"end_hour"`   // 0-23, exclusive
	Days      []int  `yaml:"days"`       // 0=Sunday .. 6=Saturday
}

// Within reports whether t (assumed UTC) falls inside the configured
// business-hours window.
func (bh BusinessHours) Within(t time.Time) bool {
	if !bh.Enabled {
		return false
	}
	loc := time.UTC
	if bh.Timezone != "" {
		if l, err := time.LoadLocation(bh.Timezone); err == nil {
			loc = l
		}
	}
	lt := t.In(loc)
	if len(bh.Days) > 0 {
		found := false
		for _, d := range bh.Days {
			if int(lt.Weekday()) == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	h := lt.Hour()
	if bh.StartHour <= bh.EndHour {
		return h >= bh.StartHour && h < bh.EndHour
	}
	// overnight window, e.g. 22 -> 6
	return h >= bh.StartHour || h < bh.EndHour
}

// MaintenanceWindow suppresses alerts from authorized IPs during a
// bounded time range (§4.9 rule 6).
type MaintenanceWindow struct {
	ID            string    `yaml:"id"`
	Start         time.Time `yaml:"start"`
	End           time.Time `yaml:"end"`
	AuthorizedIPs []string  `yaml:"authorized_ips"`
}

// Active reports whether now falls within [Start, End).
func (m MaintenanceWindow) Active(now time.Time) bool {
	return !now.Before(m.Start) && now.Before(m.End)
}

// Authorizes reports whether ip is on this window's authorized list.
func (m MaintenanceWindow) Authorizes(ip string) bool {
	for _, a := range m.AuthorizedIPs {
		if a == ip {
			return true
		}
	}
	return false
}

// TenantConfig is the full set of tenant-scoped policy consumed by the
// detection and FP-reduction pipeline (§6). It is sourced from the
// control-plane API and cached for CacheTTL.
type TenantConfig struct {
	TenantID          string              `yaml:"tenant_id"`
	CIDRBlocks        []string            `yaml:"cidr_blocks"`
	BruteForce        BruteForceConfig    `yaml:"brute_force"`
	PortScan          PortScanConfig      `yaml:"port_scan"`
	Correlation       CorrelationConfig   `yaml:"correlation"`
	Baseline          BaselineConfig      `yaml:"baseline"`
	DynamicWhitelist  DynamicWhitelistConfig `yaml:"dynamic_whitelist"`
	BusinessHours     BusinessHours       `yaml:"business_hours"`
	MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows"`
}

// CacheTTL is the control-plane cache freshness bound (§6: "Changes
// take effect within 5 seconds").
const CacheTTL = 5 * time.Second

// DefaultTenantConfig fills in the literal defaults from §6 for any
// field the control plane has not overridden.
func DefaultTenantConfig(tenantID string) TenantConfig {
	return TenantConfig{
		TenantID: tenantID,
		BruteForce: BruteForceConfig{
			Threshold:            5,
			WindowSeconds:        300,
			DistributedMinIPs:    3,
			DistributedThreshold: 7,
			ServiceAccountDelta:  3,
			FamiliarContextDelta: 3,
		},
		PortScan: PortScanConfig{
			Threshold:     10,
			WindowSeconds: 300,
		},
		Correlation: CorrelationConfig{
			WindowSeconds: 900,
		},
		Baseline: BaselineConfig{
			MinSampleCount:      10,
			ConfidenceCapSample: 10,
		},
		DynamicWhitelist: DynamicWhitelistConfig{
			SuccessThreshold: 5,
			TTLHours:         24,
		},
	}
}
