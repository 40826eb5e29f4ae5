package checkpoint

import "github.com/mediascribe/mediascribe/internal/core"

// Reduce folds an ordered record log into the latest record per item key.
// Later records supersede earlier ones; log order is authoritative.
func Reduce(records []core.ItemRecord) map[core.ItemKey]*core.ItemRecord {
	latest := make(map[core.ItemKey]*core.ItemRecord, len(records))
	for i := range records {
		rec := records[i]
		latest[rec.Key()] = &rec
	}
	return latest
}

// ResumeState classifies replayed records for re-entry into the pipeline.
type ResumeState struct {
	// Done holds items that must never be re-attempted (succeeded/skipped).
	Done map[core.ItemKey]*core.ItemRecord
	// Retry holds items to re-queue: failed items within budget, plus
	// in_progress records left behind by a crash mid-attempt.
	Retry map[core.ItemKey]*core.ItemRecord
	// Attempts preserves per-key attempt counts so a resume never resets
	// retry budgets.
	Attempts map[core.ItemKey]int
}

// Resume partitions the latest records into done and retryable sets.
func Resume(latest map[core.ItemKey]*core.ItemRecord) *ResumeState {
	rs := &ResumeState{
		Done:     make(map[core.ItemKey]*core.ItemRecord),
		Retry:    make(map[core.ItemKey]*core.ItemRecord),
		Attempts: make(map[core.ItemKey]int),
	}
	for key, rec := range latest {
		rs.Attempts[key] = rec.Attempt
		switch {
		case rec.Status.Done():
			rs.Done[key] = rec
		case rec.Status == core.ItemFailed, rec.Status == core.ItemInProgress:
			// A crash mid-attempt leaves in_progress with no terminal
			// record; treat it exactly like a failed item.
			rs.Retry[key] = rec
		}
	}
	return rs
}
