package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// Step names the input a conversation is waiting for.
type Step string

const (
	// StepAwaitingListing expects the seller's free-text listing.
	StepAwaitingListing Step = "awaiting_listing"
)

const defaultSessionTTL = 15 * time.Minute

type pendingInput struct {
	step      Step
	expiresAt time.Time
}

// Sessions tracks which conversations expect a follow-up input. Each entry
// is consumed by the first Take.
type Sessions struct {
	mu      sync.Mutex
	pending map[string]pendingInput
	ttl     time.Duration
	now     func() time.Time
}

// NewSessions creates a session map whose entries expire after ttl.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{
		pending: make(map[string]pendingInput),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Expect records that the next input for key should be handled as step,
// replacing any earlier expectation.
func (s *Sessions) Expect(key string, step Step) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = pendingInput{step: step, expiresAt: s.now().Add(s.ttl)}
}

// Take returns and clears the expected step for key.
func (s *Sessions) Take(key string) (Step, bool) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[key]
	if !ok {
		return "", false
	}
	delete(s.pending, key)
	if !s.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.step, true
}

// Cancel drops any expectation for key.
func (s *Sessions) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, strings.TrimSpace(key))
}

// Sweep removes expired entries and reports how many were dropped.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	dropped := 0
	for key, entry := range s.pending {
		if !now.Before(entry.expiresAt) {
			delete(s.pending, key)
			dropped++
		}
	}
	return dropped
}
