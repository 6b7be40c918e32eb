// Package id implements mechtron's identity and sequencing model: the
// (seq, index) Id pair and the node-local monotonic allocator that mints
// fresh ones. Grounded on internal/core/identity.go's minimal identity
// type, generalized from a random hex string to the node-unique prefix +
// monotonic counter spec.md §3 requires.
package id

import (
	"fmt"
	"sync/atomic"
)

// Id is a (seq, index) pair. seq is the node's unique prefix; index
// increments monotonically within that node.
type Id struct {
	Seq   int64
	Index int64
}

// Central is the well-known id of the cluster's Central node.
var Central = Id{Seq: 0, Index: 0}

func (i Id) String() string {
	return fmt.Sprintf("%d.%d", i.Seq, i.Index)
}

// Equal reports whether two Ids name the same entity.
func (i Id) Equal(o Id) bool {
	return i.Seq == o.Seq && i.Index == o.Index
}

// Less gives Ids a total lexicographic order: Seq first, then Index.
func (i Id) Less(o Id) bool {
	if i.Seq != o.Seq {
		return i.Seq < o.Seq
	}
	return i.Index < o.Index
}

// IsNeutron reports whether this id names the privileged neutron
// mechtron of its nucleus (index 0).
func (i Id) IsNeutron() bool {
	return i.Index == 0
}

// Seq is a process-local, thread-safe allocator of fresh Ids sharing a
// fixed node seq and a strictly increasing index. Lock-free: atomic
// monotonic counter, per spec.md §5's IdSeq concurrency policy.
type Seq struct {
	seq   int64
	index int64 // accessed only via atomic
}

// NewSeq creates an allocator rooted at the given node seq. The first
// Next() returns index 1; index 0 is reserved for the nucleus's neutron.
func NewSeq(seq int64) *Seq {
	return &Seq{seq: seq}
}

// Next returns a fresh Id, never repeating within this Seq's lifetime.
func (s *Seq) Next() Id {
	idx := atomic.AddInt64(&s.index, 1)
	return Id{Seq: s.seq, Index: idx}
}

// NodeSeq reports the fixed node prefix this allocator mints under.
func (s *Seq) NodeSeq() int64 {
	return atomic.LoadInt64(&s.seq)
}

// Rebase reassigns the node seq this allocator mints under, for an
// allocator created before its node's seq was known. The index counter
// is left untouched, so ids minted before and after a Rebase never share
// an index. The discovery handshake (discovery.Node.Initialize) sets the
// node id directly and does not call Rebase.
func (s *Seq) Rebase(seq int64) {
	atomic.StoreInt64(&s.seq, seq)
}
