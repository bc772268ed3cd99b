package scanner

import (
	"sort"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/domain"
)

// Queue is the live opportunity queue: one producer (the scan loop), one
// consumer (the execution loop). Entries are kept ranked by gross profit and
// evicted once they exceed the TTL; each entry is consumed at most once.
type Queue struct {
	ttl time.Duration

	mu   sync.Mutex
	opps []domain.Opportunity // sorted by MaxProfit, best first
}

// NewQueue creates a Queue with the given entry TTL.
func NewQueue(ttl time.Duration) *Queue {
	return &Queue{ttl: ttl}
}

// Push merges a ranked batch into the queue and re-ranks.
func (q *Queue) Push(opps ...domain.Opportunity) {
	if len(opps) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.opps = append(q.opps, opps...)
	sort.Slice(q.opps, func(i, j int) bool {
		return q.opps[i].MaxProfit > q.opps[j].MaxProfit
	})
}

// PopBest removes and returns the highest-ranked live opportunity. Expired
// entries encountered on the way are discarded.
func (q *Queue) PopBest() (domain.Opportunity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.ttl)
	for len(q.opps) > 0 {
		best := q.opps[0]
		q.opps = q.opps[1:]
		if best.CreatedAt.Before(cutoff) {
			continue
		}
		return best, true
	}
	return domain.Opportunity{}, false
}

// Prune drops every entry older than the TTL and returns how many were
// removed.
func (q *Queue) Prune() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.ttl)
	kept := q.opps[:0]
	removed := 0
	for _, opp := range q.opps {
		if opp.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, opp)
	}
	q.opps = kept
	return removed
}

// Len returns the number of queued entries, expired or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.opps)
}
