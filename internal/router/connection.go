// Package router implements local/external message routing and the
// per-connection node directory (spec.md §4.6). Grounded on the
// teacher's peers-map-plus-RWMutex directory style in
// kernel/core/mesh/routing/dht.go, simplified from Kademlia buckets to
// the found/unfound table spec.md actually specifies. Each Connection's
// TrySend goes through a github.com/sony/gobreaker circuit breaker, so a
// connection that keeps failing sends fails fast instead of being retried
// forever. The breaker does not touch the found/unfound tables, and
// Router.Route does not consult it.
package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/uberscott/mechtron/internal/id"
)

// NodeFind records where and how far away a node was last observed
// through one Connection.
type NodeFind struct {
	Hops       uint8
	ObservedAt time.Time
}

// Connection is a bidirectional channel to a remote node, tracking
// which other nodes are reachable (found) or known unreachable
// (unfound) through it. A node id appears in at most one of the two
// tables at a time (spec.md §3's Connection invariant).
type Connection struct {
	Name string

	mu      sync.RWMutex
	found   map[id.Id]NodeFind
	unfound map[id.Id]bool

	breaker *gobreaker.CircuitBreaker
	Send    func(frame []byte) error
}

// NewConnection builds a Connection named name, wrapping send in a
// circuit breaker so repeated transport failures stop being retried
// against this connection until it recovers.
func NewConnection(name string, send func(frame []byte) error) *Connection {
	c := &Connection{
		Name:    name,
		found:   make(map[id.Id]NodeFind),
		unfound: make(map[id.Id]bool),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connection:" + name,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
	})
	c.Send = send
	return c
}

// TrySend routes data through the circuit breaker; when the breaker is
// open this fails fast without touching the transport.
func (c *Connection) TrySend(data []byte) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.Send(data)
	})
	return err
}

// Learn records that node is reachable through this connection at
// hops. A lower hop count always overrides a higher one already on
// file; an equal hop count refreshes ObservedAt; a higher hop count than
// the one on file is ignored. Learning a node removes it from unfound.
func (c *Connection) Learn(node id.Id, hops uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unfound, node)

	existing, ok := c.found[node]
	if !ok || hops <= existing.Hops {
		c.found[node] = NodeFind{Hops: hops, ObservedAt: time.Now()}
	}
}

// MarkUnfound records that node is known not reachable through this
// connection, unless a positive observation is already on file -- a
// later Learn always supersedes this.
func (c *Connection) MarkUnfound(node id.Id) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.found[node]; ok {
		return
	}
	c.unfound[node] = true
}

// Lookup reports what this connection currently believes about node.
func (c *Connection) Lookup(node id.Id) (NodeFind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nf, ok := c.found[node]
	return nf, ok
}

// IsUnfound reports whether this connection has recorded node as
// unreachable.
func (c *Connection) IsUnfound(node id.Id) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unfound[node]
}
