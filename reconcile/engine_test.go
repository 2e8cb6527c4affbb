package reconcile

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/jvhoven/mijnhost-ddns/config"
	"github.com/jvhoven/mijnhost-ddns/detector"
	"github.com/jvhoven/mijnhost-ddns/metrics"
	"github.com/jvhoven/mijnhost-ddns/provider"
	"github.com/jvhoven/mijnhost-ddns/state"
)

type mockStore struct {
	entries map[string]state.Entry
	getErr  error
	putErr  error
	puts    int
}

func newMockStore() *mockStore {
	return &mockStore{entries: map[string]state.Entry{}}
}

func storeKey(domain, name, rtype string) string {
	return domain + "|" + name + "|" + rtype
}

func (m *mockStore) Get(ctx context.Context, domain, name, rtype string) (state.Entry, bool, error) {
	if m.getErr != nil {
		return state.Entry{}, false, m.getErr
	}
	entry, ok := m.entries[storeKey(domain, name, rtype)]
	return entry, ok, nil
}

func (m *mockStore) Put(ctx context.Context, domain, name, rtype, ip string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.entries[storeKey(domain, name, rtype)] = state.Entry{IP: ip, UpdatedAt: time.Now().Unix()}
	return nil
}

func (m *mockStore) Close() error { return nil }

type mockProvider struct {
	records   map[string][]provider.Record
	listErr   map[string]error
	createErr error
	updateErr error

	listCalls   int
	createCalls int
	updateCalls int
	created     []provider.Record
	updated     []provider.Record
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		records: map[string][]provider.Record{},
		listErr: map[string]error{},
	}
}

func (m *mockProvider) Verify(ctx context.Context) error { return nil }

func (m *mockProvider) ListRecords(ctx context.Context, domain string) ([]provider.Record, error) {
	m.listCalls++
	if err := m.listErr[domain]; err != nil {
		return nil, err
	}
	return m.records[domain], nil
}

func (m *mockProvider) CreateRecord(ctx context.Context, domain string, record provider.Record) (provider.Record, error) {
	m.createCalls++
	if m.createErr != nil {
		return provider.Record{}, m.createErr
	}
	record.ID = "created"
	m.created = append(m.created, record)
	return record, nil
}

func (m *mockProvider) UpdateRecord(ctx context.Context, domain string, id string, record provider.Record) (provider.Record, error) {
	m.updateCalls++
	if m.updateErr != nil {
		return provider.Record{}, m.updateErr
	}
	record.ID = id
	m.updated = append(m.updated, record)
	return record, nil
}

func testEngine(store state.Store, dns provider.Provider) *engine {
	cfg := &config.Config{Provider: config.Provider{TTL: 900}}
	return NewEngine(store, dns, cfg, metrics.New(false))
}

func detected(v4, v6 string) detector.DetectedIP {
	var ip detector.DetectedIP
	if v4 != "" {
		ip.V4 = netip.MustParseAddr(v4)
	}
	if v6 != "" {
		ip.V6 = netip.MustParseAddr(v6)
	}
	return ip
}

func domains(d ...config.Domain) []config.Domain { return d }

func TestReconcileOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		record   config.Record
		ip       detector.DetectedIP
		cached   string // pre-seeded cache value, empty for none
		existing []provider.Record
		expected Outcome
	}{
		{
			name:     "missing record is created",
			record:   config.Record{Name: "", Type: "A"},
			ip:       detected("203.0.113.5", ""),
			expected: OutcomeCreated,
		},
		{
			name:     "changed record is updated",
			record:   config.Record{Name: "www", Type: "A"},
			ip:       detected("203.0.113.5", ""),
			existing: []provider.Record{{ID: "r1", RR: provider.NewRecord("www", "A", "198.51.100.7", 900*time.Second).RR}},
			expected: OutcomeUpdated,
		},
		{
			name:     "matching record is confirmed without a write",
			record:   config.Record{Name: "www", Type: "A"},
			ip:       detected("203.0.113.5", ""),
			existing: []provider.Record{{ID: "r1", RR: provider.NewRecord("www", "A", "203.0.113.5", 900*time.Second).RR}},
			expected: OutcomeConfirmed,
		},
		{
			name:     "warm cache short-circuits",
			record:   config.Record{Name: "www", Type: "A"},
			ip:       detected("203.0.113.5", ""),
			cached:   "203.0.113.5",
			expected: OutcomeCacheHit,
		},
		{
			name:     "aaaa without detected ipv6 is skipped",
			record:   config.Record{Name: "", Type: "AAAA"},
			ip:       detected("203.0.113.5", ""),
			expected: OutcomeSkippedNoIP,
		},
		{
			name:     "aaaa with detected ipv6 is created",
			record:   config.Record{Name: "", Type: "AAAA"},
			ip:       detected("203.0.113.5", "2001:db8::1"),
			expected: OutcomeCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			if tt.cached != "" {
				store.entries[storeKey("example.com", tt.record.Name, tt.record.Type)] = state.Entry{IP: tt.cached}
			}
			dns := newMockProvider()
			dns.records["example.com"] = tt.existing

			engine := testEngine(store, dns)
			result := engine.Reconcile(context.Background(), domains(config.Domain{
				Name:    "example.com",
				Records: []config.Record{tt.record},
			}), tt.ip)

			if len(result.Records) != 1 {
				t.Fatalf("expected 1 record result, got %d", len(result.Records))
			}
			if got := result.Records[0].Outcome; got != tt.expected {
				t.Errorf("outcome mismatch: got %s, want %s", got, tt.expected)
			}

			// Every successful outcome must leave the cache holding the
			// desired value; skip and cache-hit must not write.
			switch tt.expected {
			case OutcomeCreated, OutcomeUpdated, OutcomeConfirmed:
				entry, ok := store.entries[storeKey("example.com", tt.record.Name, tt.record.Type)]
				if !ok {
					t.Fatal("expected cache entry after successful reconciliation")
				}
				want := result.Records[0].IP
				if entry.IP != want {
					t.Errorf("cache value mismatch: got %s, want %s", entry.IP, want)
				}
			case OutcomeSkippedNoIP, OutcomeCacheHit:
				if store.puts != 0 {
					t.Errorf("expected no cache writes, got %d", store.puts)
				}
				if tt.expected == OutcomeSkippedNoIP && dns.listCalls != 0 {
					t.Errorf("skipped record must not hit the provider, got %d list calls", dns.listCalls)
				}
			}
		})
	}
}

func TestReconcileSecondCycleMakesNoProviderCalls(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	engine := testEngine(store, dns)
	ip := detected("203.0.113.5", "")
	cfg := domains(config.Domain{
		Name:    "example.com",
		Records: []config.Record{{Name: "", Type: "A"}},
	})

	first := engine.Reconcile(context.Background(), cfg, ip)
	if got := first.Records[0].Outcome; got != OutcomeCreated {
		t.Fatalf("first cycle: got %s, want %s", got, OutcomeCreated)
	}
	if dns.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", dns.createCalls)
	}

	callsAfterFirst := dns.listCalls + dns.createCalls + dns.updateCalls
	second := engine.Reconcile(context.Background(), cfg, ip)
	if got := second.Records[0].Outcome; got != OutcomeCacheHit {
		t.Fatalf("second cycle: got %s, want %s", got, OutcomeCacheHit)
	}
	if total := dns.listCalls + dns.createCalls + dns.updateCalls; total != callsAfterFirst {
		t.Errorf("second cycle issued %d provider calls, want 0", total-callsAfterFirst)
	}
}

func TestReconcileListsOncePerDomain(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	engine := testEngine(store, dns)

	engine.Reconcile(context.Background(), domains(config.Domain{
		Name: "example.com",
		Records: []config.Record{
			{Name: "www", Type: "A"},
			{Name: "api", Type: "A"},
			{Name: "vpn", Type: "A"},
		},
	}), detected("203.0.113.5", ""))

	if dns.listCalls != 1 {
		t.Errorf("expected the domain to be listed once, got %d calls", dns.listCalls)
	}
	if dns.createCalls != 3 {
		t.Errorf("expected 3 creates, got %d", dns.createCalls)
	}
}

func TestReconcilePartialFailureIsolation(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	dns.listErr["broken.example"] = errors.New("boom")
	engine := testEngine(store, dns)

	result := engine.Reconcile(context.Background(), domains(
		config.Domain{Name: "broken.example", Records: []config.Record{{Name: "", Type: "A"}}},
		config.Domain{Name: "healthy.example", Records: []config.Record{{Name: "", Type: "A"}}},
	), detected("203.0.113.5", ""))

	if got := result.Records[0].Outcome; got != OutcomeFailed {
		t.Errorf("broken domain: got %s, want %s", got, OutcomeFailed)
	}
	if got := result.Records[1].Outcome; got != OutcomeCreated {
		t.Errorf("healthy domain: got %s, want %s", got, OutcomeCreated)
	}

	if _, ok := store.entries[storeKey("broken.example", "", "A")]; ok {
		t.Error("failed record must not gain a cache entry")
	}
	if entry, ok := store.entries[storeKey("healthy.example", "", "A")]; !ok || entry.IP != "203.0.113.5" {
		t.Errorf("healthy record cache entry missing or wrong: %+v ok=%v", entry, ok)
	}
}

func TestReconcileFailedCreateLeavesCacheUntouched(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	dns.createErr = errors.New("boom")
	engine := testEngine(store, dns)

	result := engine.Reconcile(context.Background(), domains(config.Domain{
		Name:    "example.com",
		Records: []config.Record{{Name: "", Type: "A"}},
	}), detected("203.0.113.5", ""))

	if got := result.Records[0].Outcome; got != OutcomeFailed {
		t.Fatalf("got %s, want %s", got, OutcomeFailed)
	}
	if result.Records[0].Err == nil {
		t.Error("failed result must carry its error")
	}
	if store.puts != 0 {
		t.Errorf("expected no cache writes, got %d", store.puts)
	}
}

func TestReconcileStaleCacheWithCorrectProvider(t *testing.T) {
	store := newMockStore()
	store.entries[storeKey("example.com", "", "A")] = state.Entry{IP: "198.51.100.7"}
	dns := newMockProvider()
	dns.records["example.com"] = []provider.Record{
		{ID: "r1", RR: provider.NewRecord("", "A", "203.0.113.5", 900*time.Second).RR},
	}
	engine := testEngine(store, dns)

	result := engine.Reconcile(context.Background(), domains(config.Domain{
		Name:    "example.com",
		Records: []config.Record{{Name: "", Type: "A"}},
	}), detected("203.0.113.5", ""))

	if got := result.Records[0].Outcome; got != OutcomeConfirmed {
		t.Fatalf("got %s, want %s", got, OutcomeConfirmed)
	}
	if dns.createCalls+dns.updateCalls != 0 {
		t.Error("confirmed record must not trigger a provider write")
	}
	if entry := store.entries[storeKey("example.com", "", "A")]; entry.IP != "203.0.113.5" {
		t.Errorf("stale cache not refreshed, got %s", entry.IP)
	}
}

func TestReconcileCacheReadErrorFallsBackToProvider(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("cache broken")
	dns := newMockProvider()
	dns.records["example.com"] = []provider.Record{
		{ID: "r1", RR: provider.NewRecord("", "A", "203.0.113.5", 900*time.Second).RR},
	}
	engine := testEngine(store, dns)

	result := engine.Reconcile(context.Background(), domains(config.Domain{
		Name:    "example.com",
		Records: []config.Record{{Name: "", Type: "A"}},
	}), detected("203.0.113.5", ""))

	if got := result.Records[0].Outcome; got != OutcomeConfirmed {
		t.Fatalf("got %s, want %s", got, OutcomeConfirmed)
	}
	if dns.listCalls != 1 {
		t.Errorf("expected one list call on cache read error, got %d", dns.listCalls)
	}
}

func TestReconcileUpdateUsesExistingRecordID(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	dns.records["example.com"] = []provider.Record{
		{ID: "abc123", RR: provider.NewRecord("www", "A", "198.51.100.7", 300*time.Second).RR},
		{ID: "other", RR: provider.NewRecord("www", "AAAA", "2001:db8::1", 300*time.Second).RR},
	}
	engine := testEngine(store, dns)

	engine.Reconcile(context.Background(), domains(config.Domain{
		Name:    "example.com",
		Records: []config.Record{{Name: "www", Type: "A"}},
	}), detected("203.0.113.5", ""))

	if len(dns.updated) != 1 {
		t.Fatalf("expected 1 update, got %d", len(dns.updated))
	}
	if dns.updated[0].ID != "abc123" {
		t.Errorf("updated wrong record id: %s", dns.updated[0].ID)
	}
	if dns.updated[0].Data != "203.0.113.5" {
		t.Errorf("updated wrong value: %s", dns.updated[0].Data)
	}
}

func TestTTLOverride(t *testing.T) {
	store := newMockStore()
	dns := newMockProvider()
	engine := testEngine(store, dns)

	engine.Reconcile(context.Background(), domains(config.Domain{
		Name: "example.com",
		Records: []config.Record{
			{Name: "short", Type: "A", TTL: 60},
			{Name: "default", Type: "A"},
		},
	}), detected("203.0.113.5", ""))

	if len(dns.created) != 2 {
		t.Fatalf("expected 2 creates, got %d", len(dns.created))
	}
	if dns.created[0].TTL != 60*time.Second {
		t.Errorf("ttl override not applied, got %s", dns.created[0].TTL)
	}
	if dns.created[1].TTL != 900*time.Second {
		t.Errorf("default ttl not applied, got %s", dns.created[1].TTL)
	}
}
