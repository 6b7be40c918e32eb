package state

import (
	"sync"
	"time"

	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/errs"
)

// Meta holds the fixed fields every State carries regardless of its
// mechtron's own schema (spec.md §3): what artifact created it, when,
// at which cycle, and an optional lookup name for by-name addressing.
type Meta struct {
	Artifact         Artifact
	CreationTimestamp time.Time
	CreationCycle    int64
	LookupName       string
}

// State is a mechtron's versioned content: its meta fields, its main
// data buffer, and any number of named auxiliary buffers. Once tainted
// every structural mutation is rejected until the mechtron is replaced
// by a fresh State via re-create (spec.md §3, §4.4).
type State struct {
	mu      sync.Mutex
	Meta    Meta
	Data    *buffer.Buffer
	Buffers map[string]*buffer.Buffer
	taint   bool
}

// New builds a fresh, untainted State.
func New(meta Meta, data *buffer.Buffer) *State {
	return &State{
		Meta:    meta,
		Data:    data,
		Buffers: make(map[string]*buffer.Buffer),
	}
}

// Tainted reports whether this state has been torn down by a failed
// kernel call and is now frozen.
func (s *State) Tainted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taint
}

// Taint permanently marks this state as tainted. Idempotent.
func (s *State) Taint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taint = true
}

// checkMutable returns StateTainted if this state can no longer accept
// structural mutation.
func (s *State) checkMutable() error {
	if s.taint {
		return errs.New(errs.StateTainted, "state is tainted")
	}
	return nil
}

// PutBuffer attaches or replaces a named auxiliary buffer, rejecting the
// write if the state is tainted.
func (s *State) PutBuffer(name string, b *buffer.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.Buffers[name] = b
	return nil
}

// Snapshot returns an immutable, independently-owned copy of s suitable
// for insertion into a ContentHistory: the data buffer and every
// auxiliary buffer are compacted and copied so later mutation of the
// live State can never leak into a stored snapshot (spec.md §4.2's
// "snapshot never mutated after insert" invariant).
func (s *State) Snapshot(revision RevisionKey) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.Data.CopyToBuffer()
	if err != nil {
		return nil, err
	}
	buffers := make(map[string]*buffer.Buffer, len(s.Buffers))
	for name, b := range s.Buffers {
		cp, err := b.CopyToBuffer()
		if err != nil {
			return nil, err
		}
		buffers[name] = cp
	}
	return &Snapshot{
		Revision: revision,
		Meta:     s.Meta,
		Data:     data,
		Buffers:  buffers,
		Taint:    s.taint,
	}, nil
}

// Snapshot is the immutable form of a State keyed by the RevisionKey it
// was committed under. It is the value type stored in ContentHistory.
type Snapshot struct {
	Revision RevisionKey
	Meta     Meta
	Data     *buffer.Buffer
	Buffers  map[string]*buffer.Buffer
	Taint    bool
}
