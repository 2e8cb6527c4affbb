package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jvhoven/mijnhost-ddns/config"
	"github.com/jvhoven/mijnhost-ddns/detector"
	"github.com/jvhoven/mijnhost-ddns/metrics"
	"github.com/jvhoven/mijnhost-ddns/provider"
	"github.com/jvhoven/mijnhost-ddns/state"
)

type Engine interface {
	Reconcile(ctx context.Context, domains []config.Domain, ip detector.DetectedIP) CycleResult
}

type engine struct {
	store      state.Store
	dns        provider.Provider
	defaultTTL time.Duration
	metrics    *metrics.Metrics
}

func NewEngine(store state.Store, dns provider.Provider, cfg *config.Config, metrics *metrics.Metrics) *engine {
	return &engine{
		store:      store,
		dns:        dns,
		defaultTTL: time.Duration(cfg.Provider.TTL) * time.Second,
		metrics:    metrics,
	}
}

// Reconcile runs one full pass over the configured records. Provider and
// cache failures are isolated per record: they are reported in the result,
// never returned, so one bad domain cannot block updates to healthy ones.
func (e *engine) Reconcile(ctx context.Context, domains []config.Domain, ip detector.DetectedIP) CycleResult {
	var result CycleResult

	for _, d := range domains {
		live := &liveRecords{dns: e.dns, domain: d.Name}
		for _, rc := range d.Records {
			res := e.reconcileRecord(ctx, d.Name, rc, ip, live)
			e.metrics.IncRecordOutcome(string(res.Outcome), res.Domain)
			logResult(res)
			result.Records = append(result.Records, res)
		}
	}
	return result
}

func (e *engine) reconcileRecord(ctx context.Context, domain string, rc config.Record, ip detector.DetectedIP, live *liveRecords) RecordResult {
	res := RecordResult{Domain: domain, Name: rc.Name, Type: rc.Type}

	addr, ok := ip.ForType(rc.Type)
	if !ok {
		res.Outcome = OutcomeSkippedNoIP
		return res
	}
	desired := addr.String()
	res.IP = desired

	entry, found, err := e.store.Get(ctx, domain, rc.Name, rc.Type)
	if err != nil {
		// A broken cache read just costs us a provider round trip.
		slog.Warn("cache read failed, treating as miss", "domain", domain, "name", displayName(rc.Name), "type", rc.Type, "error", err)
	}
	if found && entry.IP == desired {
		res.Outcome = OutcomeCacheHit
		return res
	}

	records, err := live.get(ctx)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("list records: %w", err)
		return res
	}

	match := findRecord(records, rc.Name, rc.Type)
	switch {
	case match == nil:
		created := provider.NewRecord(rc.Name, rc.Type, desired, e.ttlFor(rc))
		if _, err := e.dns.CreateRecord(ctx, domain, created); err != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("create record: %w", err)
			return res
		}
		res.Outcome = OutcomeCreated

	case match.Data != desired:
		updated := *match
		updated.Data = desired
		updated.TTL = e.ttlFor(rc)
		if _, err := e.dns.UpdateRecord(ctx, domain, match.ID, updated); err != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("update record: %w", err)
			return res
		}
		res.Outcome = OutcomeUpdated

	default:
		// Provider already correct; the cache was stale or empty.
		res.Outcome = OutcomeConfirmed
	}

	if err := e.store.Put(ctx, domain, rc.Name, rc.Type, desired); err != nil {
		// The apply already succeeded; the next cycle re-confirms cheaply.
		slog.Warn("cache write failed", "domain", domain, "name", displayName(rc.Name), "type", rc.Type, "error", err)
	}
	return res
}

func (e *engine) ttlFor(rc config.Record) time.Duration {
	if rc.TTL > 0 {
		return time.Duration(rc.TTL) * time.Second
	}
	return e.defaultTTL
}

func findRecord(records []provider.Record, name, rtype string) *provider.Record {
	for i := range records {
		if records[i].Name == name && records[i].Type == rtype {
			return &records[i]
		}
	}
	return nil
}

// liveRecords fetches a domain's record list at most once per cycle; the
// first cache miss pays for the listing and the rest of the domain's records
// reuse it. A listing failure is memoized too, so the remaining records of
// the domain fail fast without more calls.
type liveRecords struct {
	dns     provider.Provider
	domain  string
	fetched bool
	records []provider.Record
	err     error
}

func (l *liveRecords) get(ctx context.Context) ([]provider.Record, error) {
	if !l.fetched {
		l.records, l.err = l.dns.ListRecords(ctx, l.domain)
		l.fetched = true
	}
	return l.records, l.err
}

func logResult(res RecordResult) {
	switch res.Outcome {
	case OutcomeFailed:
		slog.Error("record reconciliation failed", "domain", res.Domain, "name", displayName(res.Name), "type", res.Type, "error", res.Err)
	case OutcomeCacheHit, OutcomeSkippedNoIP:
		slog.Debug("record unchanged", "domain", res.Domain, "name", displayName(res.Name), "type", res.Type, "outcome", string(res.Outcome))
	default:
		slog.Info("record reconciled", "domain", res.Domain, "name", displayName(res.Name), "type", res.Type, "outcome", string(res.Outcome), "ip", res.IP)
	}
}

func displayName(name string) string {
	if name == "" {
		return "@"
	}
	return name
}
