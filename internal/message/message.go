// Package message implements mechtron's message envelope: the
// immutable Message, the MessageBuilder that resolves by-name lookups
// before stamping one, and the respond/ok/reject derivation helpers
// (spec.md §3, §4.3). Grounded on the teacher's header-then-payload
// framing discipline in kernel/threads/foundation/message_queue.go,
// adapted from a fixed-size SAB ring slot to a variably-sized envelope.
package message

import (
	"time"

	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/state"
)

// Kind enumerates the message kinds spec.md §3 names.
type Kind int

const (
	Create Kind = iota
	Update
	Content
	Api
	Ok
	Reject
	Response
)

// Layer selects whether a message targets the mechtron shell's own
// framework ports or the user kernel's ports.
type Layer int

const (
	Shell Layer = iota
	Kernel
)

// Delivery selects whether a message rides the ordinary per-cycle
// mailbox or is delivered out-of-cycle.
type Delivery int

const (
	Cyclic Delivery = iota
	Phasic
)

// CycleSelector picks which cycle a message is destined for.
type CycleSelectorKind int

const (
	Present CycleSelectorKind = iota
	Exact
	Next
)

type CycleSelector struct {
	Kind CycleSelectorKind
	N    int64 // meaningful only when Kind == Exact
}

// Address names a message's source or destination: a mechtron, a port
// on it, the layer and cycle/phase/delivery it binds to.
type Address struct {
	Tron     state.MechtronKey
	Port     string
	Layer    Layer
	Cycle    CycleSelector
	Delivery Delivery
	Phase    string
}

// Payload is one element of a message's payload list: a named,
// schema-bound buffer snapshot. The concrete buffer type lives in
// package buffer; message only needs to move it around immutably, so it
// stores the already-read-only form.
type Payload struct {
	Name string
	Body ReadOnlyBody
}

// ReadOnlyBody is satisfied by buffer.ReadOnlyBuffer; kept as an
// interface here so package message does not need to import package
// buffer's mutable Buffer type, only the read surface a built message
// actually exposes.
type ReadOnlyBody interface {
	ReadBytes() ([]byte, error)
}

// Message is immutable once Build succeeds.
type Message struct {
	Id          id.Id
	Kind        Kind
	From        Address
	To          Address
	Meta        map[string]string
	Payloads    []Payload
	Transaction *id.Id
	Timestamp   time.Time
}

// deriveReply derives a reply whose To equals the original message's From.
func (m *Message) deriveReply(kind Kind, from Address, payloads []Payload) *Message {
	return &Message{
		Kind:     kind,
		From:     from,
		To:       m.From,
		Payloads: payloads,
		Timestamp: m.Timestamp,
	}
}

// Respond builds a Response message addressed back to m's sender.
func (m *Message) Respond(from Address, payloads []Payload) *Message {
	return m.deriveReply(Response, from, payloads)
}

// Ok builds an Ok acknowledgement addressed back to m's sender.
func (m *Message) Ok(from Address) *Message {
	return m.deriveReply(Ok, from, nil)
}

// Reject builds a Reject message carrying a human-readable reason,
// addressed back to m's sender.
func (m *Message) Reject(from Address, reason string) *Message {
	msg := m.deriveReply(Reject, from, nil)
	msg.Meta = map[string]string{"reason": reason}
	return msg
}

// Builder is a partial message whose nucleus/mechtron destination may
// be named rather than resolved; the shell clears the lookup names as
// it resolves them (spec.md §4.4.3).
type Builder struct {
	Kind               Kind
	KindSet            bool
	From               Address
	ToNucleusLookup    string
	ToTronLookup       string
	To                 Address
	ToSet              bool
	Meta               map[string]string
	Payloads           []Payload
	Transaction        *id.Id
}

// SetTo assigns the resolved destination address, marking it present
// for Build's validation.
func (b *Builder) SetTo(to Address) {
	b.To = to
	b.ToSet = true
}

// SetKind assigns the message kind, marking it present for Build's
// validation.
func (b *Builder) SetKind(k Kind) {
	b.Kind = k
	b.KindSet = true
}

// Build stamps a fresh id and validates the builder, failing if any
// required field is missing or a lookup name was never resolved and
// cleared. ts is the caller's cycle timestamp (spec.md §8: two runs of
// the same cycle must produce byte-identical messages, so this must be
// derived from the cycle/revision being executed, never wall-clock).
func (b *Builder) Build(seq *id.Seq, ts time.Time) (*Message, error) {
	if b.ToNucleusLookup != "" {
		return nil, errs.New(errs.ProtocolViolation, "to_nucleus_lookup_name not resolved before build")
	}
	if b.ToTronLookup != "" {
		return nil, errs.New(errs.ProtocolViolation, "to_tron_lookup_name not resolved before build")
	}
	if !b.ToSet {
		return nil, errs.New(errs.ProtocolViolation, "to.tron not set")
	}
	if !b.KindSet {
		return nil, errs.New(errs.ProtocolViolation, "kind not set")
	}

	return &Message{
		Id:          seq.Next(),
		Kind:        b.Kind,
		From:        b.From,
		To:          b.To,
		Meta:        b.Meta,
		Payloads:    b.Payloads,
		Transaction: b.Transaction,
		Timestamp:   ts,
	}, nil
}
