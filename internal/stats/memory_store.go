package stats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for development mode
// and testing. Records live until Cleanup removes them.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record implements Store.Record.
func (s *MemoryStore) Record(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	s.records = append(s.records, rec)
	return nil
}

// Summarize implements Store.Summarize.
func (s *MemoryStore) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byRequester := make(map[string]*RequesterSummary)
	summary := &Summary{Since: since}

	for _, rec := range s.records {
		if rec.RecordedAt.Before(since) {
			continue
		}
		agg, ok := byRequester[rec.Requester]
		if !ok {
			agg = &RequesterSummary{Requester: rec.Requester}
			byRequester[rec.Requester] = agg
		}
		agg.Requests++
		if rec.Success {
			agg.Successes++
		} else {
			agg.Failures++
		}
		agg.UnitsConsumed += rec.Units
		agg.TotalDuration += rec.Duration
		if rec.RecordedAt.After(agg.LastUsed) {
			agg.LastUsed = rec.RecordedAt
		}
		summary.TotalRequests++
		summary.TotalUnits += rec.Units
	}

	summary.Requesters = make([]RequesterSummary, 0, len(byRequester))
	for _, agg := range byRequester {
		summary.Requesters = append(summary.Requesters, *agg)
	}
	sort.Slice(summary.Requesters, func(i, j int) bool {
		if summary.Requesters[i].Requests != summary.Requesters[j].Requests {
			return summary.Requesters[i].Requests > summary.Requesters[j].Requests
		}
		return summary.Requesters[i].Requester < summary.Requesters[j].Requester
	})
	return summary, nil
}

// Cleanup implements Store.Cleanup.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rec.RecordedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}
