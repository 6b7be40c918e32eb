package mechtron_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/mechtron"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

type stubContext struct {
	revision state.RevisionKey
	seq      *id.Seq
}

func newStubContext(rev state.RevisionKey) stubContext {
	return stubContext{revision: rev, seq: id.NewSeq(1)}
}

func (c stubContext) Revision() state.RevisionKey { return c.revision }
func (c stubContext) Timestamp() time.Time        { return time.Unix(0, 0) }
func (c stubContext) LookupNucleus(name string) (id.Id, error) {
	return id.Id{Seq: 1}, nil
}
func (c stubContext) LookupMechtron(nucleus id.Id, name string) (id.Id, error) {
	return id.Id{Seq: nucleus.Seq, Index: 5}, nil
}
func (c stubContext) NeutronApiCreate(st *state.State, createMsg *message.Message) error {
	return nil
}
func (c stubContext) Seq() *id.Seq { return c.seq }

type stubKernel struct {
	createErr error
	builders  []*message.Builder
	ports     map[string]mechtron.PortHandler
}

func (k *stubKernel) Create(info mechtron.Info, ctx mechtron.Context, st *state.State, createMsg *message.Message) ([]*message.Builder, error) {
	if k.createErr != nil {
		return nil, k.createErr
	}
	return k.builders, nil
}

func (k *stubKernel) Port(name string) (mechtron.PortHandler, bool) {
	h, ok := k.ports[name]
	return h, ok
}

func (k *stubKernel) Extra(name string) (mechtron.ExtraHandler, bool) { return nil, false }
func (k *stubKernel) Update(phase string) (mechtron.UpdateHandler, bool) { return nil, false }

func mechtronKey() state.MechtronKey {
	return state.MechtronKey{Nucleus: id.Id{Seq: 1}, Mechtron: id.Id{Seq: 1, Index: 2}}
}

func dataSchema() *buffer.Schema {
	return buffer.Struct(map[string]*buffer.Schema{})
}

func TestShell_CreateTaintsOnKernelError(t *testing.T) {
	k := &stubKernel{createErr: assertErr()}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	sh.Create(&message.Message{}, ctx, st)
	assert.True(t, st.Tainted())
}

func TestShell_InboundNoOpOnTaintedState(t *testing.T) {
	k := &stubKernel{}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))
	st.Taint()
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	sh.Inbound([]*message.Message{{To: message.Address{Port: "x"}}}, ctx, st)
	assert.Empty(t, sh.Flush())
}

func TestShell_InboundUnknownPortRejectsIndividually(t *testing.T) {
	k := &stubKernel{ports: map[string]mechtron.PortHandler{}}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	msg := &message.Message{To: message.Address{Port: "nope"}, From: message.Address{Tron: mechtronKey()}}
	sh.Inbound([]*message.Message{msg}, ctx, st)

	out := sh.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.Reject, out[0].Kind)
}

func TestShell_InboundKnownPortInvokesHandler(t *testing.T) {
	called := false
	k := &stubKernel{ports: map[string]mechtron.PortHandler{
		"echo": func(info mechtron.Info, ctx mechtron.Context, st *state.State, msgs []*message.Message) ([]*message.Builder, error) {
			called = true
			assert.Len(t, msgs, 2)
			return nil, nil
		},
	}}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	msgs := []*message.Message{
		{To: message.Address{Port: "echo"}},
		{To: message.Address{Port: "echo"}},
	}
	sh.Inbound(msgs, ctx, st)
	assert.True(t, called)
}

func TestShell_ExtraShellPing(t *testing.T) {
	k := &stubKernel{}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	msg := &message.Message{To: message.Address{Port: "ping", Layer: message.Shell}, From: message.Address{Tron: mechtronKey()}}
	sh.Extra(msg, ctx, nil)

	out := sh.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.Ok, out[0].Kind)
}

func TestShell_ApiCallPanicsForNonNeutron(t *testing.T) {
	b := &message.Builder{Meta: map[string]string{"call": "neutron_api.create_mechtron"}}
	b.SetKind(message.Api)
	b.Payloads = []message.Payload{{}, {}, {}}

	k := &stubKernel{builders: []*message.Builder{b}}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindOrdinary})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))
	ctx := newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1})

	assert.Panics(t, func() {
		sh.Create(&message.Message{}, ctx, st)
	})
}

type neutronCreateStub struct {
	stubContext
	onCreate func(st *state.State, createMsg *message.Message) error
}

func (c neutronCreateStub) NeutronApiCreate(st *state.State, createMsg *message.Message) error {
	return c.onCreate(st, createMsg)
}

func TestShell_ApiCallDecodesPayloadsAndCallsNeutronApiCreate(t *testing.T) {
	dataBuf := buffer.New(dataSchema())
	ro, err := buffer.NewReadOnly(dataBuf)
	require.NoError(t, err)

	createMsg := &message.Message{Kind: message.Create, To: message.Address{Port: "boot"}}
	createBytes, err := message.Encode(createMsg)
	require.NoError(t, err)

	var capturedState *state.State
	var capturedMsg *message.Message
	ctx := neutronCreateStub{
		stubContext: newStubContext(state.RevisionKey{Mechtron: mechtronKey(), Cycle: 1}),
		onCreate: func(st *state.State, msg *message.Message) error {
			capturedState = st
			capturedMsg = msg
			return nil
		},
	}

	b := &message.Builder{Meta: map[string]string{"call": "neutron_api.create_mechtron", "lookup_name": "booted"}}
	b.SetKind(message.Api)
	b.Payloads = []message.Payload{
		{Name: "api"},
		{Name: "state", Body: ro},
		message.NewRawPayload("create", createBytes),
	}

	k := &stubKernel{builders: []*message.Builder{b}}
	sh := mechtron.New(k, mechtron.Info{Key: mechtronKey(), Kind: mechtron.KindNeutron})
	st := state.New(state.Meta{}, buffer.New(dataSchema()))

	sh.Create(&message.Message{}, ctx, st)

	require.NotNil(t, capturedState)
	assert.Equal(t, "booted", capturedState.Meta.LookupName)
	require.NotNil(t, capturedMsg)
	assert.Equal(t, message.Create, capturedMsg.Kind)
	assert.Equal(t, "boot", capturedMsg.To.Port)
}

func assertErr() error {
	return errs.New(errs.ConfigurationError, "boom")
}
