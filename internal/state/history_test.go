package state_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/state"
)

func key(seq, idx int64) state.MechtronKey {
	return state.MechtronKey{Nucleus: id.Id{Seq: seq, Index: 0}, Mechtron: id.Id{Seq: seq, Index: idx}}
}

func dataSchema() *buffer.Schema {
	return buffer.Struct(map[string]*buffer.Schema{
		"n": buffer.Leaf(buffer.KindI64),
	})
}

func TestContentStore_CreateThenIntakeRetrieve(t *testing.T) {
	cs := state.NewContentStore()
	k := key(1, 1)
	require.NoError(t, cs.Create(k))

	b := buffer.New(dataSchema())
	require.NoError(t, b.SetI64(buffer.P("n"), 42))
	s := state.New(state.Meta{CreationTimestamp: time.Now(), CreationCycle: 0}, b)

	rev := state.RevisionKey{Mechtron: k, Cycle: 0}
	snap, err := s.Snapshot(rev)
	require.NoError(t, err)
	require.NoError(t, cs.Intake(k, snap))

	got, err := cs.Retrieve(k, rev)
	require.NoError(t, err)
	n, err := got.Data.GetI64(buffer.P("n"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestContentStore_CreateTwiceRejected(t *testing.T) {
	cs := state.NewContentStore()
	k := key(1, 1)
	require.NoError(t, cs.Create(k))
	err := cs.Create(k)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestContentStore_IntakeUnknownKeyRejected(t *testing.T) {
	cs := state.NewContentStore()
	k := key(1, 1)
	b := buffer.New(dataSchema())
	s := state.New(state.Meta{}, b)
	snap, err := s.Snapshot(state.RevisionKey{Mechtron: k, Cycle: 0})
	require.NoError(t, err)

	err = cs.Intake(k, snap)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestContentStore_DuplicateRevisionRejected(t *testing.T) {
	cs := state.NewContentStore()
	k := key(1, 1)
	require.NoError(t, cs.Create(k))

	b := buffer.New(dataSchema())
	s := state.New(state.Meta{}, b)
	rev := state.RevisionKey{Mechtron: k, Cycle: 5}
	snap, err := s.Snapshot(rev)
	require.NoError(t, err)
	require.NoError(t, cs.Intake(k, snap))

	snap2, err := s.Snapshot(rev)
	require.NoError(t, err)
	err = cs.Intake(k, snap2)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestContentStore_RetrieveIsByteIdentical(t *testing.T) {
	cs := state.NewContentStore()
	k := key(2, 1)
	require.NoError(t, cs.Create(k))

	b := buffer.New(dataSchema())
	require.NoError(t, b.SetI64(buffer.P("n"), 7))
	s := state.New(state.Meta{}, b)
	rev := state.RevisionKey{Mechtron: k, Cycle: 1}
	snap, err := s.Snapshot(rev)
	require.NoError(t, err)
	require.NoError(t, cs.Intake(k, snap))

	first, err := cs.Retrieve(k, rev)
	require.NoError(t, err)
	second, err := cs.Retrieve(k, rev)
	require.NoError(t, err)

	fb, err := first.Data.ReadBytes()
	require.NoError(t, err)
	sb, err := second.Data.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, fb, sb)
}

func TestContentStore_ConcurrentWritersDistinctEntities(t *testing.T) {
	cs := state.NewContentStore()
	var wg sync.WaitGroup
	for i := int64(0); i < 20; i++ {
		k := key(i, 1)
		require.NoError(t, cs.Create(k))
		wg.Add(1)
		go func(k state.MechtronKey, n int64) {
			defer wg.Done()
			b := buffer.New(dataSchema())
			_ = b.SetI64(buffer.P("n"), n)
			s := state.New(state.Meta{}, b)
			rev := state.RevisionKey{Mechtron: k, Cycle: 0}
			snap, err := s.Snapshot(rev)
			require.NoError(t, err)
			require.NoError(t, cs.Intake(k, snap))
		}(k, i)
	}
	wg.Wait()

	for i := int64(0); i < 20; i++ {
		k := key(i, 1)
		snap, ok := cs.Latest(k)
		require.True(t, ok)
		n, err := snap.Data.GetI64(buffer.P("n"))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
}

func TestState_TaintBlocksMutation(t *testing.T) {
	b := buffer.New(dataSchema())
	s := state.New(state.Meta{}, b)
	assert.False(t, s.Tainted())

	s.Taint()
	assert.True(t, s.Tainted())

	err := s.PutBuffer("aux", buffer.New(dataSchema()))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.StateTainted))
}
