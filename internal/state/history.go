package state

import (
	"fmt"
	"sync"

	"github.com/uberscott/mechtron/internal/errs"
)

// ContentHistory is a per-mechtron append-only map of RevisionKey to an
// immutable Snapshot. A single inner RWMutex serializes intake against
// retrieval for this one entity; it never blocks another entity's
// history (spec.md §4.2).
type ContentHistory struct {
	mechtron MechtronKey
	mu       sync.RWMutex
	byCycle  map[int64]*Snapshot
}

func newContentHistory(key MechtronKey) *ContentHistory {
	return &ContentHistory{mechtron: key, byCycle: make(map[int64]*Snapshot)}
}

// Intake appends snapshot at its own revision. Rejected if the
// snapshot's revision names a different mechtron than this history, or
// if that cycle is already occupied.
func (h *ContentHistory) Intake(snapshot *Snapshot) error {
	if !snapshot.Revision.Mechtron.Equal(h.mechtron) {
		return errs.New(errs.ProtocolViolation, "revision key mechtron does not match history")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byCycle[snapshot.Revision.Cycle]; exists {
		return errs.New(errs.AlreadyExists, fmt.Sprintf("revision %s already intaken", snapshot.Revision))
	}
	h.byCycle[snapshot.Revision.Cycle] = snapshot
	return nil
}

// Retrieve returns the snapshot stored at revision, or NotFound.
func (h *ContentHistory) Retrieve(revision RevisionKey) (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.byCycle[revision.Cycle]
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("revision %s not found", revision))
	}
	return s, nil
}

// Latest returns the highest-cycle snapshot intaken so far, if any.
func (h *ContentHistory) Latest() (*Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var best *Snapshot
	for _, s := range h.byCycle {
		if best == nil || s.Revision.Cycle > best.Revision.Cycle {
			best = s
		}
	}
	return best, best != nil
}

// ContentStore maps MechtronKey to ContentHistory under a two-level
// locking discipline: an outer RWMutex protects the map's shape
// (registering a new history), and each history's own inner RWMutex
// serializes intake/retrieve for that one entity. Readers of history X
// never block on writers to history Y (spec.md §4.2's concurrency
// contract), mirroring the per-region guard split in the teacher's
// kernel/threads/sab/guard.go.
type ContentStore struct {
	outer      sync.RWMutex
	histories  map[MechtronKey]*ContentHistory
}

func NewContentStore() *ContentStore {
	return &ContentStore{histories: make(map[MechtronKey]*ContentHistory)}
}

// Create registers a fresh, empty history for key. Rejected if one
// already exists.
func (cs *ContentStore) Create(key MechtronKey) error {
	cs.outer.Lock()
	defer cs.outer.Unlock()
	if _, exists := cs.histories[key]; exists {
		return errs.New(errs.AlreadyExists, fmt.Sprintf("history for %s already exists", key))
	}
	cs.histories[key] = newContentHistory(key)
	return nil
}

// history looks up an existing history under the outer shared lock.
func (cs *ContentStore) history(key MechtronKey) (*ContentHistory, error) {
	cs.outer.RLock()
	defer cs.outer.RUnlock()
	h, ok := cs.histories[key]
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no history for %s", key))
	}
	return h, nil
}

// Intake appends snapshot to its mechtron's history. Rejected if the
// mechtron's history was never created.
func (cs *ContentStore) Intake(key MechtronKey, snapshot *Snapshot) error {
	h, err := cs.history(key)
	if err != nil {
		return err
	}
	return h.Intake(snapshot)
}

// Retrieve returns the snapshot at revision from key's history.
func (cs *ContentStore) Retrieve(key MechtronKey, revision RevisionKey) (*Snapshot, error) {
	h, err := cs.history(key)
	if err != nil {
		return nil, err
	}
	return h.Retrieve(revision)
}

// Latest returns the most recent snapshot committed for key.
func (cs *ContentStore) Latest(key MechtronKey) (*Snapshot, bool) {
	h, err := cs.history(key)
	if err != nil {
		return nil, false
	}
	return h.Latest()
}
