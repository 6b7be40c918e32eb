package discovery

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/router"
	"github.com/uberscott/mechtron/internal/wire"
)

// pendingEntry correlates an outstanding relayed request with the
// connection it should be answered on.
type pendingEntry struct {
	conn     *router.Connection
	recorded time.Time
}

// Listener drives the per-Connection wire state machine in spec.md
// §4.7. One Listener serves a whole node; Dispatch is called once per
// inbound Frame, tagged with the Connection it arrived on.
type Listener struct {
	node   *Node
	router *router.Router
	log    *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]pendingEntry
	pendingTTL time.Duration

	seenMu   sync.Mutex
	seen     *bloom.BloomFilter
}

// New builds a Listener for node, routing through r and logging via
// log/slog -- matching the teacher's routing/gossip.go, which logs
// through slog directly rather than the hand-rolled internal/logging
// logger used by the mechtron/nucleus/shell subsystem.
func New(node *Node, r *router.Router, log *slog.Logger) *Listener {
	return &Listener{
		node:       node,
		router:     r,
		log:        log,
		pending:    make(map[uuid.UUID]pendingEntry),
		pendingTTL: 30 * time.Second,
		seen:       bloom.NewWithEstimates(100000, 0.01),
	}
}

// seenSearch reports whether (from, seeking, hops) looks like a
// NodeSearch already flooded through this node, so broadcast-relay
// does not loop forever on cyclic topologies. False positives only
// cause a search to be dropped a little early; they never cause a
// protocol violation.
func (l *Listener) seenSearch(s wire.Search) bool {
	key := []byte(fmt.Sprintf("%s/%s/%d", s.From, s.Seeking, s.Hops))
	l.seenMu.Lock()
	defer l.seenMu.Unlock()
	if l.seen.Test(key) {
		return true
	}
	l.seen.Add(key)
	return false
}

func (l *Listener) recordPending(txn uuid.UUID, conn *router.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[txn] = pendingEntry{conn: conn, recorded: time.Now()}
}

func (l *Listener) takePending(txn uuid.UUID) (*router.Connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.pending[txn]
	if !ok {
		return nil, false
	}
	delete(l.pending, txn)
	return e.conn, true
}

// EvictExpiredPending drops pending entries older than the configured
// TTL. No wire semantics depend on when this runs (spec.md §4.7): it is
// purely a memory-bound implementation choice, run periodically by the
// node's own maintenance loop.
func (l *Listener) EvictExpiredPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.pendingTTL)
	for k, e := range l.pending {
		if e.recorded.Before(cutoff) {
			delete(l.pending, k)
		}
	}
}

// Outcome describes what a Dispatch call wants the caller to do next:
// send zero or more frames out on specific connections, and optionally
// close the connection the frame arrived on (a ProtocolViolation per
// spec.md §7).
type Outcome struct {
	Sends       []Send
	CloseOrigin bool
}

// Send pairs a frame with the connection it must go out on.
type Send struct {
	Conn  *router.Connection
	Frame wire.Frame
}

const maxHops = 255

// Dispatch runs f (which arrived on origin) through the state machine
// table in spec.md §4.7.
func (l *Listener) Dispatch(origin *router.Connection, f wire.Frame) (Outcome, error) {
	switch f.Tag {
	case wire.TagReportVersion:
		return l.onReportVersion()

	case wire.TagRequestUniqueSeq:
		return l.onRequestUniqueSeq(origin)

	case wire.TagReportUniqueSeq:
		return l.onReportUniqueSeq(f)

	case wire.TagReportNodeId:
		return l.onReportNodeId(origin, f)

	case wire.TagNodeSearch:
		return l.onNodeSearch(origin, f.Search)

	case wire.TagNodeFound:
		return l.onNodeFound(origin, f.Search)

	case wire.TagNodeNotFound:
		return l.onNodeNotFound(origin, f.Search)

	case wire.TagRelay:
		return l.onRelay(origin, f)

	case wire.TagMessageTransport:
		// No handler in the original source; spec.md §9 treats this as a
		// future extension point, so it is accepted and ignored.
		return Outcome{}, nil

	case wire.TagPanic:
		l.log.Warn("received panic frame", "text", f.Text)
		return Outcome{}, nil

	default:
		return Outcome{}, errs.New(errs.ProtocolViolation, "unknown wire tag")
	}
}

func (l *Listener) onReportVersion() (Outcome, error) {
	if nodeId, init := l.node.Id(); init {
		return Outcome{Sends: []Send{{Frame: wire.ReportNodeId(nodeId)}}}, nil
	}
	return Outcome{Sends: []Send{{Frame: wire.RequestUniqueSeq()}}}, nil
}

func (l *Listener) onRequestUniqueSeq(origin *router.Connection) (Outcome, error) {
	if l.node.Kind() == Central {
		seq := l.node.NextSeq()
		return Outcome{Sends: []Send{{Frame: wire.ReportUniqueSeq(seq)}}}, nil
	}

	txn := uuid.New()
	l.recordPending(txn, origin)
	relay, ok := wire.NewRelay(id.Id{}, id.Central, wire.RequestUniqueSeq(), txn, 0)
	if !ok {
		return Outcome{}, errs.New(errs.ProtocolViolation, "failed to wrap RequestUniqueSeq in relay")
	}

	d := l.router.Route(id.Central)
	if d.Kind != router.Forward {
		return Outcome{}, errs.New(errs.TransportError, "no route toward central")
	}
	return Outcome{Sends: []Send{{Conn: d.Connection, Frame: relay}}}, nil
}

func (l *Listener) onReportUniqueSeq(f wire.Frame) (Outcome, error) {
	nodeId := l.node.Initialize(f.Seq)
	return Outcome{Sends: []Send{{Frame: wire.ReportNodeId(nodeId)}}}, nil
}

func (l *Listener) onReportNodeId(origin *router.Connection, f wire.Frame) (Outcome, error) {
	// Register the connection as carrying this node at hop 1 and make sure
	// the router knows the connection; Router.Route consults each
	// registered Connection's found table, so this makes the node an
	// external route (spec.md §4.7).
	origin.Learn(f.NodeId, 1)
	l.router.AddConnection(origin)
	return Outcome{}, nil
}

func (l *Listener) onNodeSearch(origin *router.Connection, s wire.Search) (Outcome, error) {
	// Hops counts the distance from the searcher's own connection, so it
	// is bumped unconditionally before any branch below -- a found or
	// not-found reply must carry the distance through this hop too
	// (mirrors node.rs:293-299, which does search.hops += 1 first).
	s = s.Bumped()

	selfId, _ := l.node.Id()
	if s.Seeking.Equal(selfId) {
		relay, ok := wire.NewRelay(selfId, s.From, wire.NodeFound(s), uuid.New(), 0)
		if !ok {
			return Outcome{}, errs.New(errs.ProtocolViolation, "failed to wrap NodeFound")
		}
		return Outcome{Sends: []Send{{Conn: origin, Frame: relay}}}, nil
	}

	if s.Hops > maxHops {
		relay, ok := wire.NewRelay(selfId, s.From, wire.NodeNotFound(s), uuid.New(), 0)
		if !ok {
			return Outcome{}, errs.New(errs.ProtocolViolation, "failed to wrap NodeNotFound")
		}
		return Outcome{Sends: []Send{{Conn: origin, Frame: relay}}}, nil
	}

	if l.seenSearch(s) {
		return Outcome{}, nil
	}

	// The replying direction has now taught this connection both who is
	// asking (From, at this hop count) and that Seeking is not reachable
	// back through origin -- mirrors node.rs:299's unconditional
	// connection.add_unfound_node(search.seeking_id).
	origin.Learn(s.From, s.Hops)
	origin.MarkUnfound(s.Seeking)

	sends := make([]Send, 0)
	for _, c := range l.router.ConnectionsExcept(origin) {
		sends = append(sends, Send{Conn: c, Frame: wire.NodeSearch(s)})
	}
	return Outcome{Sends: sends}, nil
}

func (l *Listener) onNodeFound(origin *router.Connection, s wire.Search) (Outcome, error) {
	origin.Learn(s.Seeking, s.Hops)
	return Outcome{}, nil
}

func (l *Listener) onNodeNotFound(origin *router.Connection, s wire.Search) (Outcome, error) {
	origin.MarkUnfound(s.Seeking)
	return Outcome{}, nil
}

func (l *Listener) onRelay(origin *router.Connection, f wire.Frame) (Outcome, error) {
	if f.Hops > maxHops {
		return Outcome{}, errs.New(errs.ProtocolViolation, "relay exceeded max hops")
	}
	if f.Inner == nil {
		return Outcome{}, errs.New(errs.ProtocolViolation, "relay missing inner wire")
	}
	if f.Inner.Tag == wire.TagRelay {
		return Outcome{}, errs.New(errs.ProtocolViolation, "nested Relay(Relay(_)) is malformed")
	}

	selfId, _ := l.node.Id()
	if f.RelayTo.Equal(selfId) {
		inner, err := l.Dispatch(origin, *f.Inner)
		if err != nil {
			return Outcome{}, err
		}

		// Any send the local dispatch left addressed to "whoever sent this"
		// (Conn == nil) is a reply within this relay's context. If this node
		// is the one that originally relayed the request onward, its pending
		// table has an entry for the transaction: the reply goes straight
		// back to that original connection, unwrapped. Otherwise it is
		// re-wrapped in a Relay addressed to RelayFrom and sent back along
		// the connection this Relay physically arrived on.
		resolved := make([]Send, 0, len(inner.Sends))
		for _, snd := range inner.Sends {
			if snd.Conn != nil {
				resolved = append(resolved, snd)
				continue
			}
			if conn, ok := l.takePending(f.Transaction); ok {
				resolved = append(resolved, Send{Conn: conn, Frame: snd.Frame})
				continue
			}
			relay, ok := wire.NewRelay(selfId, f.RelayFrom, snd.Frame, f.Transaction, f.Hops+1)
			if !ok {
				return Outcome{}, errs.New(errs.ProtocolViolation, "failed to re-wrap relay response")
			}
			resolved = append(resolved, Send{Conn: origin, Frame: relay})
		}
		inner.Sends = resolved
		return inner, nil
	}

	d := l.router.Route(f.RelayTo)
	if d.Kind != router.Forward {
		return Outcome{}, errs.New(errs.TransportError, "no route to relay target")
	}
	fwd := f
	fwd.Hops = f.Hops + 1
	return Outcome{Sends: []Send{{Conn: d.Connection, Frame: fwd}}}, nil
}
