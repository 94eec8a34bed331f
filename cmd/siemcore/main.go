/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command siemcore wires the detection pipeline's components (C1-C11)
// into a single running process, the way SimpleRelay's main.go wires a
// set of listeners into one ingest.UniformMuxer: parse flags, load
// config, build components bottom-up, start them, then block on a quit
// signal and shut everything down in reverse order with a grace period.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gravwell/siemcore/alertmgr"
	"github.com/gravwell/siemcore/api"
	"github.com/gravwell/siemcore/baseline"
	"github.com/gravwell/siemcore/bus"
	"github.com/gravwell/siemcore/bus/membus"
	"github.com/gravwell/siemcore/bus/saramabus"
	"github.com/gravwell/siemcore/candidate"
	"github.com/gravwell/siemcore/correlate"
	"github.com/gravwell/siemcore/detect/bruteforce"
	"github.com/gravwell/siemcore/detect/portscan"
	"github.com/gravwell/siemcore/enrich"
	"github.com/gravwell/siemcore/fpreduce"
	"github.com/gravwell/siemcore/ingestsrv"
	"github.com/gravwell/siemcore/internal/logx"
	"github.com/gravwell/siemcore/internal/siemconfig"
	"github.com/gravwell/siemcore/model"
	"github.com/gravwell/siemcore/parse"
	"github.com/gravwell/siemcore/state"
	"github.com/gravwell/siemcore/state/memstate"
	"github.com/gravwell/siemcore/state/redisstate"
	"github.com/gravwell/siemcore/store"
	"github.com/gravwell/siemcore/store/memstore"
	"github.com/gravwell/siemcore/store/sqlstore"
)

const defaultConfigLoc = `/opt/siemcore/etc/siemcore.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "location for the process configuration file")
	tenants = flag.String("tenants", "default", "comma-separated list of tenant IDs to seed the local control plane with")
)

func main() {
	flag.Parse()
	lg := logx.New("siemcore")

	pcfg, err := siemconfig.LoadProcessConfig(*confLoc)
	if err != nil {
		lg.Error("failed to load configuration", logx.KVErr(err))
		os.Exit(1)
	}

	app, err := build(pcfg, splitTenants(*tenants), lg)
	if err != nil {
		lg.Error("failed to build pipeline", logx.KVErr(err))
		os.Exit(1)
	}

	if err := app.ingest.Start(listenerSpecs(pcfg)); err != nil {
		lg.Error("failed to start listeners", logx.KVErr(err))
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); app.runIngestLoop(runCtx) }()
	go func() { defer wg.Done(); app.baselineWorker.Run(runCtx) }()
	go func() { _ = app.bus.Subscribe(runCtx, "detection", app.handleDelivery) }()

	lg.Info("siemcore running", logx.KVs("tenants", *tenants))
	waitForQuit()

	lg.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.ingest.Shutdown(shutdownCtx); err != nil {
		lg.Warn("listener shutdown error", logx.KVErr(err))
	}
	shutdownCancel()
	cancel()
	wg.Wait()
	if err := app.bus.Close(); err != nil {
		lg.Warn("bus close error", logx.KVErr(err))
	}
	if closer, ok := app.alertStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			lg.Warn("store close error", logx.KVErr(err))
		}
	}
}

// waitForQuit blocks until SIGHUP, SIGINT, or SIGTERM, mirroring the
// teacher's utils.WaitForQuit.
func waitForQuit() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return <-quit
}

func splitTenants(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func listenerSpecs(pcfg siemconfig.ProcessConfig) []ingestsrv.ListenerSpec {
	specs := make([]ingestsrv.ListenerSpec, 0, len(pcfg.Listeners))
	for _, l := range pcfg.Listeners {
		spec := ingestsrv.ListenerSpec{
			Name:     l.Name,
			BindAddr: l.BindAddr,
			Framing:  ingestsrv.FramingNewline,
			CertFile: l.CertFile,
			KeyFile:  l.KeyFile,
		}
		switch l.Transport {
		case "tcp":
			spec.Transport = model.TransportTCP
		case "tls":
			spec.Transport = model.TransportTLS
		default:
			spec.Transport = model.TransportUDP
		}
		specs = append(specs, spec)
	}
	return specs
}

// pipeline holds every constructed component so main and tests can
// drive it without globals.
type pipeline struct {
	ingest         *ingestsrv.Server
	parser         *parserAdapter
	enricher       *enrich.Enricher
	bus            bus.Bus
	substrate      state.Substrate
	baselineWorker *baseline.Worker
	bfDetector     *bruteforce.Detector
	psDetector     *portscan.Detector
	correlator     *correlate.Detector
	reducer        *fpreduce.Reducer
	alertMgr       *alertmgr.Manager
	alertStore     store.AlertStore
	eventStore     store.EventStore
	queryAPI       *api.QueryAPI
	controlAPI     *api.ControlAPI
	lg             *logx.Logger
}

// parserAdapter exists only so main can reference the concrete parse
// type without an import cycle in tests; it is a straight pass-through.
type parserAdapter struct {
	parse func(model.RawMessage) (model.ParsedEvent, error)
}

func newParseFunc() func(model.RawMessage) (model.ParsedEvent, error) {
	p := parse.New()
	return p.Parse
}

func build(pcfg siemconfig.ProcessConfig, tenantIDs []string, lg *logx.Logger) (*pipeline, error) {
	substr, err := buildSubstrate(pcfg, lg)
	if err != nil {
		return nil, fmt.Errorf("building state substrate: %w", err)
	}
	b, err := buildBus(pcfg, lg)
	if err != nil {
		return nil, fmt.Errorf("building bus: %w", err)
	}
	alertStore, baselineStore, whitelistStore, eventStore, err := buildStore(pcfg)
	if err != nil {
		return nil, fmt.Errorf("building store: %w", err)
	}

	cp := siemconfig.NewLocalControlPlane(tenantIDs)
	cache := siemconfig.NewCache(cp)

	dropCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "siemcore_baseline_updates_dropped_total",
		Help: "Incremental baseline updates dropped because the background worker queue was full.",
	})
	if err := prometheus.Register(dropCounter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			dropCounter = are.ExistingCollector.(prometheus.Counter)
		}
	}
	baselineWorker := baseline.New(baselineStore, lg, dropCounter)
	reducer := fpreduce.New(substr, cache, baselineWorker, lg)
	for _, t := range tenantIDs {
		entries, err := whitelistStore.ListWhitelist(context.Background(), t)
		if err != nil {
			return nil, fmt.Errorf("loading whitelist for %s: %w", t, err)
		}
		if err := reducer.SetStaticWhitelist(t, entries); err != nil {
			return nil, fmt.Errorf("building whitelist tree for %s: %w", t, err)
		}
	}

	var dispatcher alertmgr.Dispatcher = logDispatcher{lg: lg}
	mgr := alertmgr.New(alertStore, dispatcher, cache, lg)

	ingest := ingestsrv.New(lg, pcfg.IngressBuffer)
	enricher := enrich.New(nil, substr)
	var tenantCIDRs []enrich.TenantCIDR
	for _, t := range tenantIDs {
		cfg, err := cp.TenantConfig(t)
		if err != nil {
			return nil, fmt.Errorf("loading tenant config for %s: %w", t, err)
		}
		tenantCIDRs = append(tenantCIDRs, enrich.TenantCIDR{TenantID: t, CIDRs: cfg.CIDRBlocks})
	}
	if err := enricher.SetTenantCIDRs(tenantCIDRs); err != nil {
		return nil, fmt.Errorf("building tenant CIDR table: %w", err)
	}
	bf := bruteforce.New(substr, cache, baselineWorker)
	ps := portscan.New(substr, cache)
	corr := correlate.New(substr, cache)

	onReload := func(tenantID string, entries []model.WhitelistEntry) error {
		return reducer.SetStaticWhitelist(tenantID, entries)
	}
	controlAPI := api.NewControlAPI(whitelistStore, cp, cache, onReload, lg)

	probes := map[string]api.Prober{
		"listener": api.ProberFunc(func(context.Context) api.ComponentStatus { return api.StatusOK }),
		"bus":      api.ProberFunc(func(context.Context) api.ComponentStatus { return api.StatusOK }),
		"detectors": api.ProberFunc(func(context.Context) api.ComponentStatus { return api.StatusOK }),
		"alert_mgr": api.ProberFunc(func(context.Context) api.ComponentStatus { return api.StatusOK }),
	}
	queryAPI := api.NewQueryAPI(mgr, alertStore, baselineStore, eventStore, probes, lg)

	p := &pipeline{
		ingest: ingest, enricher: enricher, bus: b, substrate: substr,
		baselineWorker: baselineWorker, bfDetector: bf, psDetector: ps, correlator: corr,
		reducer: reducer, alertMgr: mgr, alertStore: alertStore, eventStore: eventStore,
		queryAPI: queryAPI, controlAPI: controlAPI, lg: lg,
	}
	p.parser = &parserAdapter{parse: newParseFunc()}
	return p, nil
}

func buildSubstrate(pcfg siemconfig.ProcessConfig, lg *logx.Logger) (state.Substrate, error) {
	switch pcfg.StateBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: pcfg.RedisAddr})
		return redisstate.New(rdb, lg), nil
	default:
		return memstate.New(), nil
	}
}

func buildBus(pcfg siemconfig.ProcessConfig, lg *logx.Logger) (bus.Bus, error) {
	switch pcfg.BusBackend {
	case "sarama":
		cfg := saramabus.Config{Brokers: pcfg.SaramaBrokers, Topic: "siemcore-events", Group: "siemcore-detection", Partitions: pcfg.Partitions}
		return saramabus.New(cfg, lg)
	default:
		return membus.New(pcfg.Partitions, "")
	}
}

func buildStore(pcfg siemconfig.ProcessConfig) (store.AlertStore, store.BaselineStore, store.WhitelistStore, store.EventStore, error) {
	switch pcfg.StoreBackend {
	case "sqlite":
		s, err := sqlstore.Open(pcfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return s, s, s, s, nil
	default:
		s := memstore.New()
		return s, s, s, s, nil
	}
}

// logDispatcher is the default Dispatcher: it logs every dispatched
// alert rather than calling out to a notification channel, since
// outbound transport is out of scope per spec.md §1.
type logDispatcher struct {
	lg *logx.Logger
}

func (d logDispatcher) Dispatch(ctx context.Context, a model.Alert) error {
	d.lg.Info("alert dispatched",
		logx.KVs("tenant", a.TenantID), logx.KVs("kind", string(a.Kind)),
		logx.KVs("severity", string(a.Severity)), logx.KVs("status", string(a.Status)))
	return nil
}

// runIngestLoop drains raw frames, parses and enriches them, and
// publishes the result to the bus. It returns once ctx is cancelled or
// the ingest server's channel closes.
func (p *pipeline) runIngestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.ingest.Messages():
			if !ok {
				return
			}
			parsed, err := p.parser.parse(raw)
			if err != nil {
				continue // empty frame; nothing to enrich
			}
			enriched, drop := p.enricher.Enrich(ctx, parsed)
			if drop != enrich.DropNone {
				continue
			}
			if err := p.bus.Publish(ctx, enriched); err != nil {
				p.lg.Warn("publish failed", logx.KVErr(err))
			}
		}
	}
}

// handleDelivery runs one enriched event through the baseline updater,
// the detectors, correlation, FP-reduction, and the alert manager, in
// the order §4 lays the pipeline out.
func (p *pipeline) handleDelivery(ctx context.Context, d bus.Delivery) {
	ev := d.Event
	defer d.Ack()

	p.baselineWorker.UpdateIncremental(ev.TenantID, ev.Username, ev)
	if err := p.eventStore.Append(ctx, ev); err != nil {
		p.lg.Warn("event archival failed", logx.KVErr(err))
	}
	if ev.EventType == model.EventAuthSuccess && ev.SourceIP != nil {
		if err := p.reducer.RecordSuccess(ctx, ev.TenantID, ev.SourceIP.String(), ev.Timestamp); err != nil {
			p.lg.Warn("dynamic whitelist record failed", logx.KVErr(err))
		}
	}

	var primary []candidate.Candidate
	bfCands, err := p.bfDetector.Handle(ctx, ev)
	if err != nil {
		p.lg.Warn("brute-force detector error", logx.KVErr(err))
	}
	primary = append(primary, bfCands...)
	psCands, err := p.psDetector.Handle(ctx, ev)
	if err != nil {
		p.lg.Warn("port-scan detector error", logx.KVErr(err))
	}
	primary = append(primary, psCands...)

	all := append([]candidate.Candidate(nil), primary...)
	for _, c := range primary {
		corrCands, err := p.correlator.Handle(ctx, c)
		if err != nil {
			p.lg.Warn("correlation error", logx.KVErr(err))
			continue
		}
		all = append(all, corrCands...)
	}

	for _, c := range all {
		decision, err := p.reducer.Evaluate(ctx, c)
		if err != nil {
			p.lg.Warn("fp-reduction error", logx.KVErr(err))
			continue
		}
		outcome := alertmgr.Outcome{Suppressed: decision.Suppressed, Reason: decision.Reason, Confidence: decision.Confidence}
		if _, err := p.alertMgr.Process(ctx, c, outcome); err != nil {
			p.lg.Warn("alert manager error", logx.KVErr(err))
		}
	}
}
