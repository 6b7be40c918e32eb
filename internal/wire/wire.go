// Package wire implements the tagged-union transport protocol nodes
// speak to each other over a Connection (spec.md §4.7, §6). Grounded on
// the teacher's manual tag+fixed-fields framing in
// kernel/threads/foundation/message_queue.go's MessageHeader, adapted
// from a fixed-size SAB ring slot to a variable-length, recursively
// nestable frame (Relay wraps another Frame).
package wire

import (
	"github.com/google/uuid"
	"github.com/uberscott/mechtron/internal/id"
)

// Tag identifies which variant a Frame carries.
type Tag uint8

const (
	TagReportVersion Tag = iota
	TagRequestUniqueSeq
	TagReportUniqueSeq
	TagReportNodeId
	TagNodeSearch
	TagNodeFound
	TagNodeNotFound
	TagRelay
	TagMessageTransport
	TagPanic
)

// Search carries a NodeSearch, and is reused verbatim (per spec.md §6)
// as the payload of NodeFound and NodeNotFound.
type Search struct {
	From    id.Id
	Seeking id.Id
	Hops    uint8
}

// Bumped returns a copy of s with Hops incremented by one (uint8
// arithmetic, so 255 wraps to 0). From and Seeking are unchanged:
// NodeFound/NodeNotFound replies echo the same From/Seeking, only the
// tag differs.
func (s Search) Bumped() Search {
	return Search{From: s.From, Seeking: s.Seeking, Hops: s.Hops + 1}
}

// Frame is one wire-protocol message. Only the fields relevant to Tag
// are meaningful; this mirrors the teacher's flat MessageHeader-plus-
// payload-by-offset style rather than a sum-type hierarchy, since Go has
// no native tagged unions.
type Frame struct {
	Tag Tag

	Seq int64 // TagReportUniqueSeq

	NodeId id.Id // TagReportNodeId

	Search Search // TagNodeSearch, TagNodeFound, TagNodeNotFound

	RelayFrom   id.Id     // TagRelay
	RelayTo     id.Id     // TagRelay
	Inner       *Frame    // TagRelay
	Transaction uuid.UUID // TagRelay, correlates with the pending-transaction table
	Hops        uint8     // TagRelay

	Bytes []byte // TagMessageTransport

	Text string // TagPanic
}

func ReportVersion() Frame { return Frame{Tag: TagReportVersion} }
func RequestUniqueSeq() Frame { return Frame{Tag: TagRequestUniqueSeq} }
func ReportUniqueSeq(seq int64) Frame { return Frame{Tag: TagReportUniqueSeq, Seq: seq} }
func ReportNodeId(nodeId id.Id) Frame { return Frame{Tag: TagReportNodeId, NodeId: nodeId} }
func NodeSearch(s Search) Frame       { return Frame{Tag: TagNodeSearch, Search: s} }
func NodeFound(s Search) Frame        { return Frame{Tag: TagNodeFound, Search: s} }
func NodeNotFound(s Search) Frame     { return Frame{Tag: TagNodeNotFound, Search: s} }
func MessageTransport(b []byte) Frame { return Frame{Tag: TagMessageTransport, Bytes: b} }
func Panic(text string) Frame         { return Frame{Tag: TagPanic, Text: text} }

// NewRelay wraps inner for forwarding toward `to`. Rejects nesting a
// Relay inside a Relay: spec.md §4.7 requires Wire::Relay(Wire::Relay(_))
// to always be rejected, so the constructor refuses to build one rather
// than leaving the caller to notice at decode time.
func NewRelay(from, to id.Id, inner Frame, transaction uuid.UUID, hops uint8) (Frame, bool) {
	if inner.Tag == TagRelay {
		return Frame{}, false
	}
	return Frame{
		Tag:         TagRelay,
		RelayFrom:   from,
		RelayTo:     to,
		Inner:       &inner,
		Transaction: transaction,
		Hops:        hops,
	}, true
}
