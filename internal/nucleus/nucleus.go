// Package nucleus implements the cycle executor: the coordination
// boundary that hosts a set of mechtron shells sharing one cycle clock
// (spec.md §4.5, GLOSSARY). Grounded on the teacher's
// kernel/threads/supervisor/coordinator.go, which plays the analogous
// role of driving a fixed peer set through ordered rounds of work.
package nucleus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uberscott/mechtron/internal/config"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/logging"
	"github.com/uberscott/mechtron/internal/mechtron"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

var log = logging.New("nucleus")

// OutboundSink is where a nucleus drains messages at the end of a
// cycle. In a running node this is the router; tests can supply a
// capturing stub.
type OutboundSink interface {
	Send(msg *message.Message) error
}

type mechtronEntry struct {
	shell *mechtron.Shell
	state *state.State
}

// NucleusDirectory resolves a cluster-wide nucleus lookup name to its
// id. Backed in a running node by the router's registered names
// (spec.md §4.6); nil in a standalone or test nucleus, in which case
// LookupNucleus always reports not found.
type NucleusDirectory interface {
	LookupNucleus(name string) (id.Id, bool)
}

// Nucleus owns a set of mechtron shells keyed by MechtronId, runs them
// through the configured phase order once per cycle, and commits the
// resulting states to a ContentStore (spec.md §4.5).
type Nucleus struct {
	Key    id.Id
	Phases []string

	mu        sync.Mutex
	mechtrons map[id.Id]*mechtronEntry
	names     map[string]id.Id // mechtron LookupName -> MechtronId, within this nucleus
	mailbox   map[id.Id][]*message.Message // queued for the next cycle, partitioned further by phase at run time
	cycle     int64

	seq   *id.Seq
	store *state.ContentStore
	sink  OutboundSink
	dir   NucleusDirectory
}

func New(key id.Id, phases []string, store *state.ContentStore, sink OutboundSink) *Nucleus {
	return &Nucleus{
		Key:       key,
		Phases:    phases,
		mechtrons: make(map[id.Id]*mechtronEntry),
		names:     make(map[string]id.Id),
		mailbox:   make(map[id.Id][]*message.Message),
		seq:       id.NewSeq(key.Seq),
		store:     store,
		sink:      sink,
	}
}

// SetDirectory wires dir as the resolver for cycleContext.LookupNucleus.
// A running node passes its router; tests that never address other
// nuclei by name can leave this unset.
func (n *Nucleus) SetDirectory(dir NucleusDirectory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dir = dir
}

// Host registers a mechtron's shell and initial state under this
// nucleus, creates its ContentStore history, and -- if initial.Meta
// names a LookupName -- makes it resolvable by that name to sibling
// mechtrons' by-name builders (spec.md §4.4.3).
func (n *Nucleus) Host(mechtronId id.Id, shell *mechtron.Shell, initial *state.State) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := state.MechtronKey{Nucleus: n.Key, Mechtron: mechtronId}
	if err := n.store.Create(key); err != nil {
		return err
	}
	n.mechtrons[mechtronId] = &mechtronEntry{shell: shell, state: initial}
	if initial.Meta.LookupName != "" {
		n.names[initial.Meta.LookupName] = mechtronId
	}
	return nil
}

// Enqueue adds msg to the mailbox of its destination mechtron for the
// next cycle to process. Messages enqueued during cycle N are never
// delivered until cycle N+1 (spec.md §5).
func (n *Nucleus) Enqueue(msg *message.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mailbox[msg.To.Tron.Mechtron] = append(n.mailbox[msg.To.Tron.Mechtron], msg)
}

// Cycle reports the cycle number about to run (the one whose commit
// will be visible starting the next one).
func (n *Nucleus) Cycle() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cycle
}

// cycleContext is the mechtron.Context implementation the nucleus hands
// its shells during RunCycle.
type cycleContext struct {
	n        *Nucleus
	stdctx   context.Context
	revision state.RevisionKey
}

func (c cycleContext) Revision() state.RevisionKey { return c.revision }

// Timestamp derives a cycle-stable wall-clock value from the revision's
// cycle number rather than reading the real clock, so two runs of the
// same cycle stamp byte-identical messages (spec.md §8's deterministic
// cycle law).
func (c cycleContext) Timestamp() time.Time {
	return time.Unix(c.revision.Cycle, 0).UTC()
}

// LookupNucleus resolves a cluster-wide nucleus name through the
// directory SetDirectory wired in (the router, in a running node).
func (c cycleContext) LookupNucleus(name string) (id.Id, error) {
	if c.n.dir == nil {
		return id.Id{}, errs.New(errs.NotFound, "no nucleus directory configured, lookup name not found: "+name)
	}
	nucleusId, ok := c.n.dir.LookupNucleus(name)
	if !ok {
		return id.Id{}, errs.New(errs.NotFound, "nucleus lookup name not found: "+name)
	}
	return nucleusId, nil
}

// LookupMechtron resolves a mechtron LookupName against this nucleus's
// own directory, populated at Host time. A by-name builder that never
// set a ToNucleusLookup addresses the issuing mechtron's own nucleus
// (nucleus == id.Id{}), the common same-nucleus case; any other
// nucleus id is out of this nucleus's authority to resolve.
func (c cycleContext) LookupMechtron(nucleus id.Id, name string) (id.Id, error) {
	if nucleus != (id.Id{}) && nucleus != c.n.Key {
		return id.Id{}, errs.New(errs.NotFound, "mechtron lookup name not found in foreign nucleus: "+name)
	}
	c.n.mu.Lock()
	mechtronId, ok := c.n.names[name]
	c.n.mu.Unlock()
	if !ok {
		return id.Id{}, errs.New(errs.NotFound, "mechtron lookup name not found: "+name)
	}
	return mechtronId, nil
}

// NeutronApiCreate hosts a new mechtron under this nucleus from the
// privileged neutron_api.create_mechtron call (spec.md §4.4.4),
// mirroring context.neutron_api_create in the original: resolve st's
// Artifact to a MechtronKernel, mint the new mechtron's id from this
// nucleus's shared Seq, host it, then run its Create handler against
// the decoded create Message exactly as a freshly booted mechtron
// would.
func (c cycleContext) NeutronApiCreate(st *state.State, createMsg *message.Message) error {
	cfg := config.FromContext(c.stdctx)
	if cfg.Kernels == nil {
		return errs.New(errs.ConfigurationError, "no kernel factory configured for neutron_api.create_mechtron")
	}
	kernel, err := cfg.Kernels.Get(st.Meta.Artifact)
	if err != nil {
		return err
	}

	mechtronId := c.n.seq.Next()
	info := mechtron.Info{
		Key:  state.MechtronKey{Nucleus: c.n.Key, Mechtron: mechtronId},
		Kind: mechtron.KindOrdinary,
	}
	shell := mechtron.New(kernel, info)
	if err := c.n.Host(mechtronId, shell, st); err != nil {
		return err
	}

	createCtx := cycleContext{n: c.n, stdctx: c.stdctx, revision: state.RevisionKey{Mechtron: info.Key, Cycle: c.revision.Cycle}}
	shell.Create(createMsg, createCtx, st)
	return nil
}

func (c cycleContext) Seq() *id.Seq { return c.n.seq }

// RunCycle executes one full cycle: phases in configured order, and
// within each phase mechtrons in MechtronId order (spec.md §4.5's
// determinism contract). After the last phase it commits every
// mechtron's state to the ContentStore and drains outbound messages
// into the sink.
func (n *Nucleus) RunCycle(ctx context.Context) error {
	n.mu.Lock()
	cycle := n.cycle
	mailbox := n.mailbox
	n.mailbox = make(map[id.Id][]*message.Message)
	ids := make([]id.Id, 0, len(n.mechtrons))
	for mid := range n.mechtrons {
		ids = append(ids, mid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	n.mu.Unlock()

	for _, phase := range n.Phases {
		for _, mid := range ids {
			entry := n.mechtrons[mid]
			msgs := phaseMessages(mailbox[mid], phase)
			n.runMechtron(ctx, entry, mid, cycle, phase, msgs)
		}
	}

	return n.commitAndDrain(ids, cycle)
}

func phaseMessages(all []*message.Message, phase string) []*message.Message {
	out := make([]*message.Message, 0, len(all))
	for _, m := range all {
		if m.To.Phase == phase {
			out = append(out, m)
		}
	}
	return out
}

// runMechtron invokes a single mechtron's shell for one phase: its
// inbound port handlers for whatever msgs it queued for this phase (if
// any), then its update(phase) handler (spec.md §6), independent of
// whether any message arrived. Both run under one recover() so a panic
// raised by a malformed-reply framework violation (spec.md §4.4.2) never
// takes the nucleus down, mirroring the teacher's per-call recover()
// isolation in kernel/threads/supervisor/sab_bridge.go.
func (n *Nucleus) runMechtron(stdctx context.Context, entry *mechtronEntry, mid id.Id, cycle int64, phase string, msgs []*message.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("mechtron shell panicked", logging.F("mechtron", mid.String()), logging.F("reason", r))
			entry.state.Taint()
		}
	}()

	ctx := cycleContext{n: n, stdctx: stdctx, revision: state.RevisionKey{
		Mechtron: state.MechtronKey{Nucleus: n.Key, Mechtron: mid},
		Cycle:    cycle,
	}}
	if len(msgs) > 0 {
		entry.shell.Inbound(msgs, ctx, entry.state)
	}
	entry.shell.Update(ctx, entry.state, phase)
}

// commitAndDrain snapshots every hosted mechtron's state under the new
// RevisionKey and sends every shell's flushed outbound messages to the
// sink, advancing the cycle counter last. An Enqueue made while the cycle
// runs already lands in the next cycle's mailbox, because RunCycle swapped
// in a fresh mailbox before running any phase.
func (n *Nucleus) commitAndDrain(ids []id.Id, cycle int64) error {
	for _, mid := range ids {
		entry := n.mechtrons[mid]
		key := state.MechtronKey{Nucleus: n.Key, Mechtron: mid}
		rev := state.RevisionKey{Mechtron: key, Cycle: cycle}
		snap, err := entry.state.Snapshot(rev)
		if err != nil {
			return err
		}
		if err := n.store.Intake(key, snap); err != nil {
			return err
		}
		for _, msg := range entry.shell.Flush() {
			if err := n.sink.Send(msg); err != nil {
				log.Warn("outbound send failed", logging.F("mechtron", mid.String()), logging.F("err", err))
			}
		}
	}

	n.mu.Lock()
	n.cycle++
	n.mu.Unlock()
	return nil
}
