package reconcile

// Outcome is the terminal state of one configured record within one cycle.
type Outcome string

const (
	// OutcomeSkippedNoIP means no address of the record's family was
	// detected, so the record was left alone.
	OutcomeSkippedNoIP Outcome = "skipped_no_ip"

	// OutcomeCacheHit means the cached value already matches the desired
	// address; no provider call was made.
	OutcomeCacheHit Outcome = "cache_hit"

	// OutcomeCreated means the record did not exist at the provider and was
	// created with the desired address.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated means the record existed with a different value and
	// was updated.
	OutcomeUpdated Outcome = "updated"

	// OutcomeConfirmed means the provider already had the desired value;
	// only the cache was refreshed.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomeFailed means a provider call for this record failed. The cache
	// entry is left untouched so the next cycle retries.
	OutcomeFailed Outcome = "failed"
)

// RecordResult is the typed outcome for one configured record.
type RecordResult struct {
	Domain string
	Name   string
	Type   string

	// IP is the desired address, empty when the record was skipped.
	IP string

	Outcome Outcome
	Err     error
}

// CycleResult aggregates the outcomes of one full pass over the
// configuration.
type CycleResult struct {
	Records []RecordResult
}

func (r CycleResult) Count(o Outcome) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Outcome == o {
			n++
		}
	}
	return n
}

func (r CycleResult) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}
