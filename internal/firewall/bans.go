package firewall

import (
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// BanRegistry maps clients to ban expiry times. An expired ban counts as
// absent and is removed the next time it is looked at.
type BanRegistry struct {
	mu   sync.Mutex
	bans map[string]time.Time
}

func NewBanRegistry() *BanRegistry {
	return &BanRegistry{
		bans: make(map[string]time.Time),
	}
}

func (r *BanRegistry) IsBanned(clientID string, now time.Time) bool {
	return r.Remaining(clientID, now) > 0
}

// Remaining returns how long clientID stays banned, zero if it is not.
func (r *BanRegistry) Remaining(clientID string, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.bans[clientID]
	if !ok {
		return 0
	}
	if !expiresAt.After(now) {
		delete(r.bans, clientID)
		return 0
	}
	return expiresAt.Sub(now)
}

// Ban creates or overwrites the ban for clientID and returns its expiry.
func (r *BanRegistry) Ban(clientID string, now time.Time, duration time.Duration) time.Time {
	expiresAt := now.Add(duration)

	r.mu.Lock()
	r.bans[clientID] = expiresAt
	r.mu.Unlock()

	return expiresAt
}

// Lift removes a ban that is still active at now.
func (r *BanRegistry) Lift(clientID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.bans[clientID]
	if !ok {
		return false
	}
	delete(r.bans, clientID)
	return expiresAt.After(now)
}

func (r *BanRegistry) EvictExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, expiresAt := range r.bans {
		if !expiresAt.After(now) {
			delete(r.bans, id)
			evicted++
		}
	}
	return evicted
}

// Len counts stored records, including expired ones not yet evicted.
func (r *BanRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bans)
}

// Snapshot lists the bans still active at now.
func (r *BanRegistry) Snapshot(now time.Time) []models.BanView {
	r.mu.Lock()
	list := make([]models.BanView, 0, len(r.bans))
	for id, expiresAt := range r.bans {
		if !expiresAt.After(now) {
			continue
		}
		list = append(list, models.BanView{
			ClientID:         id,
			ExpiresAt:        expiresAt,
			RemainingSeconds: ceilSeconds(expiresAt.Sub(now)),
		})
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ClientID < list[j].ClientID })
	return list
}

func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second > 0 {
		s++
	}
	return s
}
