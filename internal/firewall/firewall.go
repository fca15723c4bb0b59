// Package firewall holds the per-client brute-force state: consecutive
// failed attempts and time-boxed bans.
package firewall

import (
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

type attempt struct {
	count         int
	lastAttemptAt time.Time
}

// Outcome is the result of recording a failed attempt.
type Outcome struct {
	Count    int
	Promoted bool
}

// AttemptTracker counts consecutive failed credential checks per client.
// A record never reaches maxFailed: the failure that would get it there
// removes the record and reports Promoted so the caller can ban.
type AttemptTracker struct {
	mu        sync.Mutex
	attempts  map[string]*attempt
	maxFailed int
}

func NewAttemptTracker(maxFailed int) *AttemptTracker {
	return &AttemptTracker{
		attempts:  make(map[string]*attempt),
		maxFailed: maxFailed,
	}
}

func (t *AttemptTracker) RecordFailure(clientID string, now time.Time) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts[clientID]
	if !ok {
		a = &attempt{}
		t.attempts[clientID] = a
	}
	a.count++

	if a.count >= t.maxFailed {
		delete(t.attempts, clientID)
		return Outcome{Count: a.count, Promoted: true}
	}

	a.lastAttemptAt = now
	return Outcome{Count: a.count}
}

// Reset forgets any failures recorded for clientID.
func (t *AttemptTracker) Reset(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, clientID)
}

// Count returns the current failure count, zero when the client is clear.
func (t *AttemptTracker) Count(clientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.attempts[clientID]; ok {
		return a.count
	}
	return 0
}

// EvictIdle drops records whose last failure is older than cutoff.
func (t *AttemptTracker) EvictIdle(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, a := range t.attempts {
		if a.lastAttemptAt.Before(cutoff) {
			delete(t.attempts, id)
			evicted++
		}
	}
	return evicted
}

func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

func (t *AttemptTracker) Snapshot() []models.AttemptView {
	t.mu.Lock()
	list := make([]models.AttemptView, 0, len(t.attempts))
	for id, a := range t.attempts {
		list = append(list, models.AttemptView{
			ClientID:      id,
			Count:         a.count,
			LastAttemptAt: a.lastAttemptAt,
		})
	}
	t.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ClientID < list[j].ClientID })
	return list
}
