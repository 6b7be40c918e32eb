// Package mechtron implements the shell: the actor kernel protocol that
// adapts a nucleus cycle driver to user-supplied kernel code (spec.md
// §4.4). Grounded on the teacher's supervisor package
// (kernel/threads/supervisor/coordinator.go, protocol.go), which plays
// the analogous "adapter between a scheduler and peer work" role.
package mechtron

import (
	"time"

	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

// Kind names a mechtron's declared role. Neutron is the privileged kind
// authorized to call the neutron_api (spec.md §4.4.4, GLOSSARY).
type Kind string

const (
	KindNeutron Kind = "Neutron"
	KindOrdinary Kind = "Mechtron"
)

// Info identifies a mechtron and its declared kind to its own kernel
// callbacks.
type Info struct {
	Key  state.MechtronKey
	Kind Kind
}

// Context is the capability surface the shell exposes to user kernel
// code: addressing, lookups, and the sole neutron_api call (spec.md §6).
type Context interface {
	Revision() state.RevisionKey
	Timestamp() time.Time
	LookupNucleus(name string) (id.Id, error)
	LookupMechtron(nucleus id.Id, name string) (id.Id, error)
	NeutronApiCreate(st *state.State, createMsg *message.Message) error
	// Seq returns the nucleus-shared Id allocator messages are stamped
	// from, so ids minted across separate handler calls within the same
	// nucleus never collide.
	Seq() *id.Seq
}

// PortHandler answers every queued message for one cyclic port in a
// single call.
type PortHandler func(info Info, ctx Context, st *state.State, msgs []*message.Message) ([]*message.Builder, error)

// ExtraHandler answers a single out-of-cycle (Phasic) kernel-layer
// message against a read-only state snapshot.
type ExtraHandler func(info Info, ctx Context, ro *state.Snapshot, msg *message.Message) ([]*message.Builder, error)

// UpdateHandler runs once per phase for mechtrons that declare work for
// it, independent of any particular inbound message.
type UpdateHandler func(info Info, ctx Context, st *state.State) ([]*message.Builder, error)

// MechtronKernel is the binding contract user code implements (spec.md
// §6). The core treats it as an opaque capability set rather than
// modeling the original's function-pointer-returning methods (spec.md
// §9's "Dynamic dispatch over kernel callbacks" redesign note).
type MechtronKernel interface {
	Create(info Info, ctx Context, st *state.State, createMsg *message.Message) ([]*message.Builder, error)
	Port(name string) (PortHandler, bool)
	Extra(name string) (ExtraHandler, bool)
	Update(phase string) (UpdateHandler, bool)
}
