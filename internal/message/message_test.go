package message_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

func tronKey(seq, idx int64) state.MechtronKey {
	return state.MechtronKey{Nucleus: id.Id{Seq: seq, Index: 0}, Mechtron: id.Id{Seq: seq, Index: idx}}
}

func TestBuilder_BuildRejectsUnresolvedLookups(t *testing.T) {
	b := &message.Builder{ToNucleusLookup: "central"}
	b.SetKind(message.Update)
	b.SetTo(message.Address{Tron: tronKey(1, 1)})
	b.ToNucleusLookup = "central"

	_, err := b.Build(id.NewSeq(1), time.Unix(0, 0))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ProtocolViolation))
}

func TestBuilder_BuildRejectsMissingTo(t *testing.T) {
	b := &message.Builder{}
	b.SetKind(message.Update)
	_, err := b.Build(id.NewSeq(1), time.Unix(0, 0))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ProtocolViolation))
}

func TestBuilder_BuildSucceeds(t *testing.T) {
	b := &message.Builder{}
	b.SetKind(message.Update)
	b.SetTo(message.Address{Tron: tronKey(1, 2), Port: "ping"})

	seq := id.NewSeq(1)
	m, err := b.Build(seq, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, message.Update, m.Kind)
	assert.Equal(t, "ping", m.To.Port)
}

func TestMessage_RespondOkReject(t *testing.T) {
	original := &message.Message{
		From: message.Address{Tron: tronKey(1, 1), Port: "x"},
	}
	from := message.Address{Tron: tronKey(1, 2), Port: "x"}

	resp := original.Respond(from, nil)
	assert.Equal(t, original.From, resp.To)
	assert.Equal(t, message.Response, resp.Kind)

	ok := original.Ok(from)
	assert.Equal(t, message.Ok, ok.Kind)
	assert.Equal(t, original.From, ok.To)

	rej := original.Reject(from, "bad port")
	assert.Equal(t, message.Reject, rej.Kind)
	assert.Equal(t, "bad port", rej.Meta["reason"])
}
