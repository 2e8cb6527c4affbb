package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/jvhoven/mijnhost-ddns/metrics"
)

const recordPrefix = "record:"

// Store persists the last successfully applied IP per configured record so
// unchanged cycles can skip the provider entirely. It is an optimization,
// never a source of truth: any read problem degrades to a cache miss.
type Store interface {
	Get(ctx context.Context, domain, name, rtype string) (Entry, bool, error)
	Put(ctx context.Context, domain, name, rtype, ip string) error
	Close() error
}

type badgerStore struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

// Open opens the cache at path. A corrupt or unreadable database is wiped
// and recreated empty, which just means the next cycle does a full
// reconciliation against the provider.
func Open(path string, m *metrics.Metrics) (Store, error) {
	db, err := open(path)
	if err != nil {
		slog.Warn("cache unreadable, starting with empty cache", "path", path, "error", err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("reset cache at %s: %w", path, rmErr)
		}
		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("open cache at %s: %w", path, err)
		}
	}
	return &badgerStore{db: db, metrics: m}, nil
}

func open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty
	opts.SyncWrites = true
	return badger.Open(opts)
}

func (s *badgerStore) Get(ctx context.Context, domain, name, rtype string) (Entry, bool, error) {
	var entry Entry
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(domain, name, rtype))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &entry); err != nil {
				// Unparseable entry behaves like a miss.
				slog.Warn("discarding corrupt cache entry", "domain", domain, "name", name, "type", rtype, "error", err)
				return nil
			}
			found = true
			return nil
		})
	})
	s.metrics.IncCacheRequest("read", err == nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	return entry, found, nil
}

func (s *badgerStore) Put(ctx context.Context, domain, name, rtype, ip string) error {
	entry := Entry{IP: ip, UpdatedAt: time.Now().Unix()}
	data, err := json.Marshal(entry)
	if err != nil {
		s.metrics.IncCacheRequest("write", false)
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(domain, name, rtype), data)
	})
	s.metrics.IncCacheRequest("write", err == nil)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func key(domain, name, rtype string) []byte {
	return []byte(recordPrefix + domain + "|" + name + "|" + rtype)
}
