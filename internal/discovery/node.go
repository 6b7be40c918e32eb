// Package discovery implements node bootstrap and the wire-frame state
// machine described in spec.md §4.7: version/seq handshake, node id
// announcement, hop-limited NodeSearch flooding, and Relay
// transaction correlation. Grounded on the teacher's
// kernel/core/mesh/routing/gossip.go (bloom-filter dedup of flooded
// messages, log/slog usage) adapted from gossip broadcast to
// spec.md's found/unfound directory-teaching semantics.
package discovery

import (
	"sync"

	"github.com/uberscott/mechtron/internal/id"
)

// Kind enumerates node kinds. Only Central self-initializes; the rest
// wait for a central-assigned seq before accepting local work
// (spec.md §4.7, and original_source/rust/mechtron_node's is_init gate).
type Kind int

const (
	Central Kind = iota
	Server
	Mesh
	Gateway
	Client
)

// Node is this process's local identity and bootstrap state.
type Node struct {
	mu   sync.RWMutex
	kind Kind
	id   id.Id
	init bool
	seq  *id.Seq // only meaningful for Kind == Central: mints seqs for others
}

// NewCentral builds the cluster's unique Central node, self-initialized
// at id (0,0) per spec.md §4.7's election rule.
func NewCentral() *Node {
	return &Node{kind: Central, id: id.Central, init: true, seq: id.NewSeq(0)}
}

// NewNode builds a non-Central node of the given kind, uninitialized
// until the seq handshake completes.
func NewNode(kind Kind) *Node {
	return &Node{kind: kind}
}

func (n *Node) Kind() Kind { return n.kind }

func (n *Node) Id() (id.Id, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id, n.init
}

// Initialize assigns this node's id the first time its central-minted
// seq is learned. A no-op if already initialized.
func (n *Node) Initialize(seq int64) id.Id {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.init {
		return n.id
	}
	n.id = id.Id{Seq: seq, Index: 0}
	n.init = true
	return n.id
}

// AcceptsLocalWork reports whether this node may host mechtrons yet.
// Central always does; other kinds must first complete the seq
// handshake (original_source/rust node.rs's is_init gate, supplemented
// into this spec because the distillation dropped it).
func (n *Node) AcceptsLocalWork() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.init
}

// NextSeq mints a fresh seq for a requesting node. Valid only on
// Central; callers must check Kind() first.
func (n *Node) NextSeq() int64 {
	return n.seq.Next().Index
}
