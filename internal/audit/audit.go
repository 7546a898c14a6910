// Package audit records reviewer decisions. The trail is append-only: an
// entry is never changed once written.
package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/hibah/model"
)

// Entry is one reviewer decision.
type Entry struct {
	ID         uuid.UUID            `json:"id"`
	ProposalID string               `json:"proposal_id"`
	StageID    string               `json:"stage_id"`
	Reviewer   string               `json:"reviewer"`
	From       model.ProposalStatus `json:"from"`
	To         model.ProposalStatus `json:"to"`
	Score      float64              `json:"score"`
	Comment    string               `json:"comment,omitempty"`
	At         time.Time            `json:"at"`
}

// Store persists audit entries.
type Store interface {
	// Append records e, assigning its ID and timestamp when unset, and
	// returns the stored entry.
	Append(ctx context.Context, e Entry) (Entry, error)

	// List returns the entries of a proposal, oldest first.
	List(ctx context.Context, proposalID string) ([]Entry, error)

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

func prepare(e Entry, now time.Time) (Entry, error) {
	if e.ProposalID == "" {
		return Entry{}, fmt.Errorf("audit: entry has no proposal id")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = now
	}
	e.At = e.At.UTC()
	return e, nil
}

// MemoryStore keeps the trail in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory trail.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry), now: time.Now}
}

// Append records an entry.
func (s *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, s.now())
	if err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	s.entries[e.ProposalID] = append(s.entries[e.ProposalID], e)
	s.mu.Unlock()
	return e, nil
}

// List returns a copy of a proposal's entries ordered by time. Entries with
// equal timestamps keep insertion order.
func (s *MemoryStore) List(_ context.Context, proposalID string) ([]Entry, error) {
	s.mu.RLock()
	out := slices.Clone(s.entries[proposalID])
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Entry) int { return a.At.Compare(b.At) })
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }
