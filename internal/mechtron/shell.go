package mechtron

import (
	"sort"

	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/logging"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

var log = logging.New("mechtron")

// Shell adapts a nucleus cycle driver to one mechtron's user-supplied
// kernel. All public operations are infallible from the caller's
// perspective: failures surface as state taint or an out-of-band log,
// never as a returned error the nucleus must interpret (spec.md §4.4).
type Shell struct {
	Kernel MechtronKernel
	Info   Info

	outbound []*message.Message
	Panicked bool
}

func New(kernel MechtronKernel, info Info) *Shell {
	return &Shell{Kernel: kernel, Info: info}
}

// Flush returns and clears the accumulated outbound queue, in insertion
// order (spec.md §4.4.1).
func (s *Shell) Flush() []*message.Message {
	out := s.outbound
	s.outbound = nil
	return out
}

func (s *Shell) from(ctx Context, layer message.Layer) message.Address {
	return message.Address{
		Tron:  s.Info.Key,
		Layer: layer,
		Cycle: message.CycleSelector{Kind: message.Present, N: ctx.Revision().Cycle},
	}
}

// panicNucleus marks this shell as having hit an unrecoverable framework
// invariant violation: a malformed incoming message from which no reply
// could be constructed. The nucleus's cycle driver recovers this panic
// per mechtron, logs it, and taints the mechtron's state (spec.md
// §4.4.2), mirroring the teacher's per-call recover() isolation in
// kernel/threads/supervisor/sab_bridge.go.
func (s *Shell) panicNucleus(reason string) {
	s.Panicked = true
	panic(errs.New(errs.ProtocolViolation, reason))
}

// Create delegates to kernel.Create, routes any returned builders
// through the handle-builders pipeline, and taints st on kernel error.
func (s *Shell) Create(msg *message.Message, ctx Context, st *state.State) {
	if st.Tainted() {
		log.Warn("create called on tainted state", logging.F("mechtron", s.Info.Key.String()))
		return
	}
	builders, err := s.Kernel.Create(s.Info, ctx, st, msg)
	if err != nil {
		log.Error("kernel create failed", logging.F("mechtron", s.Info.Key.String()), logging.F("err", err))
		st.Taint()
		return
	}
	s.handleBuilders(builders, ctx)
}

// Inbound partitions msgs by destination port (stable, lexicographic
// order), invokes each known port's handler with its full batch, and
// individually rejects messages addressed to unknown ports. A kernel
// error taints st; inbound on an already-tainted state is a no-op
// (spec.md §4.4, §4.4.3).
func (s *Shell) Inbound(msgs []*message.Message, ctx Context, st *state.State) {
	if st.Tainted() {
		return
	}

	byPort := make(map[string][]*message.Message)
	for _, m := range msgs {
		byPort[m.To.Port] = append(byPort[m.To.Port], m)
	}

	ports := make([]string, 0, len(byPort))
	for p := range byPort {
		ports = append(ports, p)
	}
	sort.Strings(ports)

	for _, port := range ports {
		batch := byPort[port]
		handler, ok := s.Kernel.Port(port)
		if !ok {
			for _, m := range batch {
				s.enqueueReject(m, ctx, "unknown port: "+port)
			}
			continue
		}
		builders, err := handler(s.Info, ctx, st, batch)
		if err != nil {
			log.Error("kernel port handler failed", logging.F("mechtron", s.Info.Key.String()), logging.F("port", port), logging.F("err", err))
			st.Taint()
			return
		}
		s.handleBuilders(builders, ctx)
	}
}

// Update runs phase's update handler if this mechtron's kernel declared
// one, independent of whatever messages it queued for that phase
// (spec.md §6's update(phase) handler). A no-op if the kernel declares
// no handler for phase, or if st is already tainted.
func (s *Shell) Update(ctx Context, st *state.State, phase string) {
	if st.Tainted() {
		return
	}
	handler, ok := s.Kernel.Update(phase)
	if !ok {
		return
	}
	builders, err := handler(s.Info, ctx, st)
	if err != nil {
		log.Error("kernel update handler failed", logging.F("mechtron", s.Info.Key.String()), logging.F("phase", phase), logging.F("err", err))
		st.Taint()
		return
	}
	s.handleBuilders(builders, ctx)
}

// Extra handles an out-of-cycle (Phasic) message against a read-only
// snapshot. Shell-layer messages answer a fixed set of framework ports;
// kernel-layer messages dispatch to kernel.Extra. Kernel errors are
// logged only -- they never taint state (spec.md §4.4).
func (s *Shell) Extra(msg *message.Message, ctx Context, ro *state.Snapshot) {
	if msg.To.Layer == message.Shell {
		switch msg.To.Port {
		case "ping":
			s.enqueueOk(msg, ctx)
		case "pong":
			// no-op
		default:
			s.enqueueReject(msg, ctx, "unknown shell port: "+msg.To.Port)
		}
		return
	}

	handler, ok := s.Kernel.Extra(msg.To.Port)
	if !ok {
		s.enqueueReject(msg, ctx, "unknown port: "+msg.To.Port)
		return
	}
	builders, err := handler(s.Info, ctx, ro, msg)
	if err != nil {
		log.Warn("kernel extra handler failed", logging.F("mechtron", s.Info.Key.String()), logging.F("port", msg.To.Port), logging.F("err", err))
		return
	}
	s.handleBuilders(builders, ctx)
}

func (s *Shell) enqueueReject(msg *message.Message, ctx Context, reason string) {
	reply := msg.Reject(s.from(ctx, message.Shell), reason)
	s.outbound = append(s.outbound, reply)
}

func (s *Shell) enqueueOk(msg *message.Message, ctx Context) {
	reply := msg.Ok(s.from(ctx, message.Shell))
	s.outbound = append(s.outbound, reply)
}

// handleBuilders runs the pipeline in spec.md §4.4.3 over every builder
// a kernel call returned.
func (s *Shell) handleBuilders(builders []*message.Builder, ctx Context) {
	for _, b := range builders {
		b.From = s.from(ctx, message.Kernel)

		if b.ToNucleusLookup != "" {
			nucleusId, err := ctx.LookupNucleus(b.ToNucleusLookup)
			if err != nil {
				log.Error("unknown nucleus lookup name", logging.F("name", b.ToNucleusLookup))
				continue
			}
			b.ToNucleusLookup = ""
			b.To.Tron.Nucleus = nucleusId
			b.ToSet = true
		}

		if b.ToTronLookup != "" {
			mechtronId, err := ctx.LookupMechtron(b.To.Tron.Nucleus, b.ToTronLookup)
			if err != nil {
				log.Error("unknown mechtron lookup name", logging.F("name", b.ToTronLookup))
				continue
			}
			b.ToTronLookup = ""
			b.To.Tron.Mechtron = mechtronId
			b.ToSet = true
		}

		if b.Kind == message.Api {
			s.handleApiCall(b, ctx)
			continue
		}

		built, err := b.Build(ctx.Seq(), ctx.Timestamp())
		if err != nil {
			log.Error("builder failed to build", logging.F("mechtron", s.Info.Key.String()), logging.F("err", err))
			continue
		}
		s.outbound = append(s.outbound, built)
	}
}

// handleApiCall interprets an Api builder per spec.md §4.4.4: the sole
// implemented call is neutron_api.create_mechtron, restricted to
// mechtrons declared Kind Neutron.
func (s *Shell) handleApiCall(b *message.Builder, ctx Context) {
	if s.Info.Kind != KindNeutron {
		s.panicNucleus("Api call issued by non-Neutron mechtron: " + string(s.Info.Kind))
	}

	if len(b.Payloads) < 3 {
		s.panicNucleus("Api call malformed: expected api, state meta, and create message payloads")
	}

	call, ok := b.Meta["call"]
	if !ok {
		s.panicNucleus("Api call missing call name")
	}
	if call != "neutron_api.create_mechtron" {
		log.Warn("unknown api call", logging.F("call", call))
		return
	}

	// Payloads[1] carries the new mechtron's initial Data buffer (built
	// live by the Neutron kernel, so it is copied rather than decoded
	// from bytes) and Payloads[2] the wire-form create Message, mirroring
	// mechtron_shell.rs:352-360's payload[1].copy_to_buffer() and
	// payload[2].read_bytes().
	dataBody, ok := b.Payloads[1].Body.(copyableBody)
	if !ok {
		s.panicNucleus("Api call payload 1 is not a copyable buffer")
	}
	data, err := dataBody.CopyToBuffer()
	if err != nil {
		s.panicNucleus("Api call payload 1 failed to copy: " + err.Error())
	}

	createBytes, err := b.Payloads[2].Body.ReadBytes()
	if err != nil {
		s.panicNucleus("Api call payload 2 failed to read: " + err.Error())
	}
	createMsg, err := message.Decode(createBytes)
	if err != nil {
		s.panicNucleus("Api call payload 2 failed to decode: " + err.Error())
	}

	newState := state.New(state.Meta{
		Artifact:          state.Artifact{Bundle: b.Meta["artifact_bundle"], Path: b.Meta["artifact_path"]},
		CreationTimestamp: ctx.Timestamp(),
		CreationCycle:     ctx.Revision().Cycle,
		LookupName:        b.Meta["lookup_name"],
	}, data)

	if err := ctx.NeutronApiCreate(newState, createMsg); err != nil {
		log.Error("neutron_api.create_mechtron failed", logging.F("err", err))
	}
}

// copyableBody is satisfied by buffer.ReadOnlyBuffer, the concrete type
// an in-process Api builder's Payloads[1] carries: the escape hatch
// that lets the shell obtain a fresh mutable Buffer for a new
// mechtron's Data without package message needing to import package
// buffer's mutable type.
type copyableBody interface {
	message.ReadOnlyBody
	CopyToBuffer() (*buffer.Buffer, error)
}
