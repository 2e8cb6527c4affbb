package provider

import (
	"context"
	"errors"
	"time"

	"github.com/libdns/libdns"
)

// Sentinel errors for classifying provider API failures. Callers check with
// errors.Is; anything not wrapping one of these is a transient network failure
// and is retried on the next cycle through the cache-miss path.
var (
	// ErrAuth means the API rejected our credential.
	ErrAuth = errors.New("provider: authentication rejected")

	// ErrNotFound means the domain is not managed by this account, or the
	// record id no longer exists.
	ErrNotFound = errors.New("provider: not found")

	// ErrRateLimit means the API throttled us and the client's retry budget
	// was exhausted.
	ErrRateLimit = errors.New("provider: rate limited")
)

type Provider interface {
	// Verify performs a lightweight authenticated call to validate the
	// credential before the first cycle runs.
	Verify(ctx context.Context) error
	ListRecords(ctx context.Context, domain string) ([]Record, error)
	CreateRecord(ctx context.Context, domain string, record Record) (Record, error)
	UpdateRecord(ctx context.Context, domain string, id string, record Record) (Record, error)
}

// Record is the provider's live view of a DNS record. The embedded RR carries
// the name relative to the domain, empty name meaning the apex. Records are
// fetched fresh each cycle and never persisted.
type Record struct {
	ID string
	libdns.RR
}

func NewRecord(name, rtype, data string, ttl time.Duration) Record {
	return Record{
		RR: libdns.RR{
			Name: name,
			Type: rtype,
			Data: data,
			TTL:  ttl,
		},
	}
}
