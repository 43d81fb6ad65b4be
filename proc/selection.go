package proc

import (
	"sync"
	"time"
)

// selectionTTL is how long a search prompt stays redeemable. Expired prompts
// behave exactly like unknown ones.
const selectionTTL = 1 * time.Hour

type selectionEntry struct {
	candidates []*Track
	requester  string
	expiresAt  time.Time
}

// SelectionRegistry holds pending search prompts keyed by the message that
// carries the picker component. Each prompt is redeemable at most once.
type SelectionRegistry struct {
	mu      sync.Mutex
	pending map[string]selectionEntry
}

func NewSelectionRegistry() *SelectionRegistry {
	return &SelectionRegistry{pending: make(map[string]selectionEntry)}
}

// Register stores the candidate list shown to the user under the prompt ID.
func (sr *SelectionRegistry) Register(promptID string, candidates []*Track, requester string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.prune()
	sr.pending[promptID] = selectionEntry{
		candidates: cloneTracks(candidates),
		requester:  requester,
		expiresAt:  time.Now().Add(selectionTTL),
	}
}

// Take redeems a prompt: it returns the chosen candidate and removes the
// prompt so a second click is a no-op. Unknown or expired prompts return
// ErrSelectionStale; a valid prompt with an out-of-range index returns
// ErrInvalidRequest and leaves the prompt registered.
func (sr *SelectionRegistry) Take(promptID string, index int) (*Track, string, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	entry, ok := sr.pending[promptID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(sr.pending, promptID)
		return nil, "", ErrSelectionStale
	}
	if index < 0 || index >= len(entry.candidates) {
		return nil, "", ErrInvalidRequest
	}

	delete(sr.pending, promptID)
	return entry.candidates[index].Clone(), entry.requester, nil
}

// Drop discards a prompt without redeeming it.
func (sr *SelectionRegistry) Drop(promptID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	delete(sr.pending, promptID)
}

// Sweep removes expired prompts and reports how many were dropped.
func (sr *SelectionRegistry) Sweep() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.prune()
}

// prune removes expired prompts. Caller holds the lock.
func (sr *SelectionRegistry) prune() int {
	dropped := 0
	now := time.Now()
	for id, entry := range sr.pending {
		if now.After(entry.expiresAt) {
			delete(sr.pending, id)
			dropped++
		}
	}
	return dropped
}
