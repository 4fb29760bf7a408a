// Package store provides the in-process storage backends of the bot:
// the conversation state store and the deduplication ledgers.
//
// Both are process-local by design. Conversation state is lost on
// restart; the StateStore interface exists so a persistent backend can
// be swapped in without touching the flow package.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
)

// StateStore maps a sender identity to its current conversation state.
//
// The store guards its own map, but imposes no per-sender ordering: two
// rapid events for the same sender can interleave at I/O suspension
// points inside a handler and lose an update. That race is accepted.
type StateStore interface {
	// Get returns the state for a sender and whether one exists.
	Get(sender string) (models.ConversationState, bool)

	// Set stores or replaces the state for a sender.
	Set(sender string, state models.ConversationState)

	// Delete removes the state for a sender, returning it to idle.
	Delete(sender string)
}

// InMemoryStateStore is the default map-backed StateStore.
type InMemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]models.ConversationState
}

// NewInMemoryStateStore creates an empty in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]models.ConversationState)}
}

// Get returns the state for a sender and whether one exists.
func (s *InMemoryStateStore) Get(sender string) (models.ConversationState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sender]
	return st, ok
}

// Set stores or replaces the state for a sender.
func (s *InMemoryStateStore) Set(sender string, state models.ConversationState) {
	state.UpdatedAt = time.Now()
	s.mu.Lock()
	s.states[sender] = state
	s.mu.Unlock()
	slog.Debug("StateStore set", "sender", sender, "step", state.Step)
}

// Delete removes the state for a sender.
func (s *InMemoryStateStore) Delete(sender string) {
	s.mu.Lock()
	delete(s.states, sender)
	s.mu.Unlock()
	slog.Debug("StateStore delete", "sender", sender)
}

// Len returns the number of senders with active state.
func (s *InMemoryStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// DedupLedger is a time-bounded set of already-processed event ids.
//
// Entries expire en masse on Clear, invoked by the scheduler on a
// fixed interval (hourly by default) rather than per-entry TTL. An id
// reused after a Clear cycle is treated as new; channel redelivery
// windows are far shorter than the clearing interval.
type DedupLedger struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	name string
}

// NewDedupLedger creates an empty ledger. The name is used in logs to
// tell the message ledger and the processed-options ledger apart.
func NewDedupLedger(name string) *DedupLedger {
	return &DedupLedger{ids: make(map[string]struct{}), name: name}
}

// Seen reports whether the id was already recorded in this window.
func (l *DedupLedger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Record marks an id as processed. Returns false if it was already
// recorded, so callers can check and record in one step.
func (l *DedupLedger) Record(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

// Clear drops every recorded id, starting a new dedup window.
func (l *DedupLedger) Clear() {
	l.mu.Lock()
	n := len(l.ids)
	l.ids = make(map[string]struct{})
	l.mu.Unlock()
	slog.Info("DedupLedger cleared", "ledger", l.name, "dropped", n)
}
