package nucleus_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/mechtron"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/nucleus"
	"github.com/uberscott/mechtron/internal/state"
)

// capturingSink records every message a nucleus drains at commit time.
type capturingSink struct {
	mu  sync.Mutex
	out []*message.Message
}

func (s *capturingSink) Send(msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *capturingSink) drain() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}

func dataSchema() *buffer.Schema {
	return buffer.Struct(map[string]*buffer.Schema{})
}

// recordingKernel emits one reply builder per phase it's asked to
// handle, addressed back to whatever the inbound message's From names,
// and records the order of phases it was invoked for.
type recordingKernel struct {
	mu    sync.Mutex
	order []string
}

func (k *recordingKernel) Create(info mechtron.Info, ctx mechtron.Context, st *state.State, createMsg *message.Message) ([]*message.Builder, error) {
	return nil, nil
}

func (k *recordingKernel) Port(name string) (mechtron.PortHandler, bool) {
	return func(info mechtron.Info, ctx mechtron.Context, st *state.State, msgs []*message.Message) ([]*message.Builder, error) {
		k.mu.Lock()
		k.order = append(k.order, info.Key.Mechtron.String()+"/"+name)
		k.mu.Unlock()

		var builders []*message.Builder
		for _, m := range msgs {
			b := &message.Builder{}
			b.SetKind(message.Response)
			b.SetTo(m.From)
			builders = append(builders, b)
		}
		return builders, nil
	}, name == "a" || name == "b"
}

func (k *recordingKernel) Extra(name string) (mechtron.ExtraHandler, bool) { return nil, false }
func (k *recordingKernel) Update(phase string) (mechtron.UpdateHandler, bool) {
	return nil, false
}

func newState() *state.State {
	return state.New(state.Meta{}, buffer.New(dataSchema()))
}

func TestNucleus_PhaseOrderingDeterministic(t *testing.T) {
	nucleusKey := id.Id{Seq: 1}
	store := state.NewContentStore()
	sink := &capturingSink{}
	n := nucleus.New(nucleusKey, []string{"a", "b"}, store, sink)

	k := &recordingKernel{}
	mechOne := id.Id{Seq: 1, Index: 1}
	mechTwo := id.Id{Seq: 1, Index: 2}

	for _, mid := range []id.Id{mechTwo, mechOne} {
		info := mechtron.Info{Key: state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}, Kind: mechtron.KindOrdinary}
		sh := mechtron.New(k, info)
		require.NoError(t, n.Host(mid, sh, newState()))
	}

	from := message.Address{Tron: state.MechtronKey{Nucleus: nucleusKey, Mechtron: id.Id{Seq: 9, Index: 9}}}
	for _, mid := range []id.Id{mechOne, mechTwo} {
		to := state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}
		n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "a", Phase: "a"}, From: from})
		n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "b", Phase: "b"}, From: from})
	}

	require.NoError(t, n.RunCycle(context.Background()))

	// Within each phase, mechtrons run in MechtronId order: mechOne
	// (index 1) before mechTwo (index 2), and phase "a" entirely before
	// phase "b" for both mechtrons (spec.md §4.5's determinism contract).
	assert.Equal(t, []string{
		"1.1/a", "1.2/a", "1.1/b", "1.2/b",
	}, k.order)

	out := sink.drain()
	assert.Len(t, out, 4)

	// The cycle counter advances once the cycle has committed, so a fresh
	// enqueue now is processed by cycle 1, not cycle 0.
	assert.Equal(t, int64(1), n.Cycle())
}

// panicKernel's port handler always panics, simulating a malformed-reply
// framework violation (spec.md §4.4.2).
type panicKernel struct{}

func (k *panicKernel) Create(info mechtron.Info, ctx mechtron.Context, st *state.State, createMsg *message.Message) ([]*message.Builder, error) {
	return nil, nil
}

func (k *panicKernel) Port(name string) (mechtron.PortHandler, bool) {
	return func(info mechtron.Info, ctx mechtron.Context, st *state.State, msgs []*message.Message) ([]*message.Builder, error) {
		panic(errs.New(errs.ProtocolViolation, "malformed reply"))
	}, true
}

func (k *panicKernel) Extra(name string) (mechtron.ExtraHandler, bool)     { return nil, false }
func (k *panicKernel) Update(phase string) (mechtron.UpdateHandler, bool) { return nil, false }

func TestNucleus_PanicTaintsStateAndNeverRerunsHandlers(t *testing.T) {
	nucleusKey := id.Id{Seq: 2}
	store := state.NewContentStore()
	sink := &capturingSink{}
	n := nucleus.New(nucleusKey, []string{"only"}, store, sink)

	k := &panicKernel{}
	mid := id.Id{Seq: 2, Index: 1}
	info := mechtron.Info{Key: state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}, Kind: mechtron.KindOrdinary}
	sh := mechtron.New(k, info)
	st := newState()
	require.NoError(t, n.Host(mid, sh, st))

	to := state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}
	n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "only", Phase: "only"}})

	require.NoError(t, n.RunCycle(context.Background()))
	assert.True(t, st.Tainted())

	// A subsequent cycle with the mechtron still tainted must not panic
	// again: Shell.Inbound is a no-op on a tainted state (spec.md
	// §4.4.3), so the nucleus's recover never fires a second time.
	n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "only", Phase: "only"}})
	require.NoError(t, n.RunCycle(context.Background()))
	assert.True(t, st.Tainted())
}

func TestNucleus_EnqueueBetweenCyclesLandsNextCycleOnly(t *testing.T) {
	nucleusKey := id.Id{Seq: 3}
	store := state.NewContentStore()
	sink := &capturingSink{}
	n := nucleus.New(nucleusKey, []string{"a"}, store, sink)

	k := &recordingKernel{}
	mid := id.Id{Seq: 3, Index: 1}
	info := mechtron.Info{Key: state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}, Kind: mechtron.KindOrdinary}
	sh := mechtron.New(k, info)
	require.NoError(t, n.Host(mid, sh, newState()))

	to := state.MechtronKey{Nucleus: nucleusKey, Mechtron: mid}
	from := message.Address{Tron: to}

	require.Equal(t, int64(0), n.Cycle())
	n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "a", Phase: "a"}, From: from})
	require.NoError(t, n.RunCycle(context.Background()))
	require.Equal(t, int64(1), n.Cycle())

	// Re-enqueue after the cycle committed: must be visible only to the
	// next RunCycle, never retroactively to the one just finished.
	n.Enqueue(&message.Message{To: message.Address{Tron: to, Port: "a", Phase: "a"}, From: from})
	require.NoError(t, n.RunCycle(context.Background()))
	assert.Equal(t, int64(2), n.Cycle())
	assert.Equal(t, []string{"3.1/a", "3.1/a"}, k.order)
}
