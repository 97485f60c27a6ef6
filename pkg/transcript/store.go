package transcript

import (
	"sync"
	"time"

	"github.com/prepdeck/interviewkit/pkg/interview"
)

// Outcome describes what Append did with a candidate message.
type Outcome string

const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeDuplicate  Outcome = "duplicate"
)

// MergeResult reports the result of one Append. SurvivorID is the id of
// the entry that remains in the store for this logical message.
type MergeResult struct {
	Outcome    Outcome
	SurvivorID string
}

// Store is the ordered, deduplicated log of interview messages. It is
// the single source of truth for what the user sees. Two producers feed
// it concurrently (the poller and the voice channel); a single mutex
// guards the ordered sequence, which is enough at interview message
// volume.
type Store struct {
	mu     sync.Mutex
	window time.Duration
	msgs   []interview.Message
	ids    map[string]struct{}
}

const DefaultDedupWindow = 5 * time.Second

// NewStore creates a store with the given dedup window. Non-positive
// windows fall back to the default.
func NewStore(window time.Duration) *Store {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Store{
		window: window,
		ids:    make(map[string]struct{}),
	}
}

// Append inserts a message applying the dedup rule: within the trailing
// dedup window, two messages with equal role and content are the same
// logical event, and the one with the most authoritative origin
// survives. Appending the same server message twice is a no-op.
func (s *Store) Append(candidate interview.Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.ID != "" {
		if _, ok := s.ids[candidate.ID]; ok {
			return s.mergeByID(candidate)
		}
	}

	// Scan only the trailing window; cost stays a small constant no
	// matter how long the transcript grows.
	for i := len(s.msgs) - 1; i >= 0; i-- {
		existing := s.msgs[i]
		if candidate.CreatedAt.Sub(existing.CreatedAt) >= s.window {
			break
		}
		if existing.Role != candidate.Role || existing.Content != candidate.Content {
			continue
		}
		if candidate.Origin.Authority() > existing.Origin.Authority() {
			// Supersede in place: adopt the authoritative identity but
			// keep the slot and timestamp so ordering stays stable.
			delete(s.ids, existing.ID)
			s.msgs[i].ID = candidate.ID
			s.msgs[i].Origin = candidate.Origin
			s.recordID(candidate.ID)
			return MergeResult{Outcome: OutcomeSuperseded, SurvivorID: candidate.ID}
		}
		// Ties keep the earliest-seen entry.
		s.recordID(candidate.ID)
		return MergeResult{Outcome: OutcomeDuplicate, SurvivorID: existing.ID}
	}

	s.insertOrdered(candidate)
	s.recordID(candidate.ID)
	return MergeResult{Outcome: OutcomeAccepted, SurvivorID: candidate.ID}
}

// mergeByID handles a candidate whose server id is already present:
// idempotent re-delivery, or an origin upgrade for the same message.
func (s *Store) mergeByID(candidate interview.Message) MergeResult {
	for i := range s.msgs {
		if s.msgs[i].ID != candidate.ID {
			continue
		}
		if candidate.Origin.Authority() > s.msgs[i].Origin.Authority() {
			s.msgs[i].Origin = candidate.Origin
			s.msgs[i].Content = candidate.Content
			return MergeResult{Outcome: OutcomeSuperseded, SurvivorID: candidate.ID}
		}
		return MergeResult{Outcome: OutcomeDuplicate, SurvivorID: candidate.ID}
	}
	// Id was recorded for a superseded entry that no longer carries it.
	return MergeResult{Outcome: OutcomeDuplicate, SurvivorID: candidate.ID}
}

// ReplaceOptimistic atomically swaps a provisional entry for its
// server-confirmed counterpart. The entry keeps its position unless the
// server timestamp orders it earlier, in which case it is repositioned
// by CreatedAt ascending with ties broken by insertion order.
func (s *Store) ReplaceOptimistic(tempID string, confirmed interview.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.msgs {
		if s.msgs[i].ID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	delete(s.ids, tempID)

	if idx > 0 && confirmed.CreatedAt.Before(s.msgs[idx-1].CreatedAt) {
		s.msgs = append(s.msgs[:idx], s.msgs[idx+1:]...)
		s.insertOrdered(confirmed)
	} else {
		s.msgs[idx] = confirmed
	}
	s.recordID(confirmed.ID)
	return true
}

// Remove deletes an entry by id. Used to roll back an optimistic
// message whose backend request failed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			delete(s.ids, id)
			return true
		}
	}
	return false
}

// Snapshot returns the ordered transcript as a copy. It never blocks on
// network work; callers may render it on every frame.
func (s *Store) Snapshot() []interview.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interview.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of entries in the transcript.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset drops all entries. Full session teardown only.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.ids = make(map[string]struct{})
}

// insertOrdered places msg by CreatedAt ascending, after any entries
// with an equal timestamp (insertion order breaks ties).
func (s *Store) insertOrdered(msg interview.Message) {
	i := len(s.msgs)
	for i > 0 && s.msgs[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	s.msgs = append(s.msgs, interview.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = msg
}

func (s *Store) recordID(id string) {
	if id != "" {
		s.ids[id] = struct{}{}
	}
}
