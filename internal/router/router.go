package router

import (
	"sync"

	"github.com/uberscott/mechtron/internal/id"
)

// Decision is the outcome of routing a message toward a destination
// nucleus: either it is hosted here (Receive), or it should go out a
// specific Connection, or no connection currently knows it (Search).
type DecisionKind int

const (
	Receive DecisionKind = iota
	Forward
	Search
)

type Decision struct {
	Kind       DecisionKind
	Connection *Connection // meaningful when Kind == Forward
}

// Router demultiplexes outbound traffic to either the local nucleus set
// or one of several remote connections, per spec.md §4.6.
type Router struct {
	mu          sync.RWMutex
	local       map[id.Id]bool
	connections map[string]*Connection
	names       map[string]id.Id
}

func New() *Router {
	return &Router{
		local:       make(map[id.Id]bool),
		connections: make(map[string]*Connection),
		names:       make(map[string]id.Id),
	}
}

// RegisterName makes nucleus resolvable by name through LookupNucleus,
// the cluster-wide half of spec.md §4.4.3's by-name addressing (the
// within-nucleus half lives in the nucleus's own mechtron directory).
func (r *Router) RegisterName(name string, nucleus id.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = nucleus
}

// LookupNucleus resolves a name registered via RegisterName. Satisfies
// nucleus.NucleusDirectory structurally.
func (r *Router) LookupNucleus(name string) (id.Id, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nucleus, ok := r.names[name]
	return nucleus, ok
}

// HostLocal registers a nucleus as hosted on this node.
func (r *Router) HostLocal(nucleus id.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[nucleus] = true
}

// HasNucleusLocal answers the directory query of the same name in
// spec.md §4.6.
func (r *Router) HasNucleusLocal(nucleus id.Id) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local[nucleus]
}

// AddConnection registers a new remote connection under name.
func (r *Router) AddConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.Name] = c
}

// RemoveConnection drops a connection, e.g. after a ProtocolViolation
// closes it (spec.md §7).
func (r *Router) RemoveConnection(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, name)
}

// Route decides where a message addressed to nucleus should go: locally
// if hosted here, otherwise the connection reporting the lowest hop
// count (ties broken by the most recently observed), otherwise Search.
func (r *Router) Route(nucleus id.Id) Decision {
	if r.HasNucleusLocal(nucleus) {
		return Decision{Kind: Receive}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Connection
	var bestFind NodeFind
	for _, c := range r.connections {
		nf, ok := c.Lookup(nucleus)
		if !ok {
			continue
		}
		if best == nil ||
			nf.Hops < bestFind.Hops ||
			(nf.Hops == bestFind.Hops && nf.ObservedAt.After(bestFind.ObservedAt)) {
			best = c
			bestFind = nf
		}
	}
	if best == nil {
		return Decision{Kind: Search}
	}
	return Decision{Kind: Forward, Connection: best}
}

// ConnectionsExcept returns every registered connection except exclude, for
// flooding a NodeSearch broadcast (spec.md §4.7).
func (r *Router) ConnectionsExcept(exclude *Connection) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}
