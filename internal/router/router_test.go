package router_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/router"
)

func TestRouter_RouteLocal(t *testing.T) {
	r := router.New()
	n := id.Id{Seq: 1}
	r.HostLocal(n)
	d := r.Route(n)
	assert.Equal(t, router.Receive, d.Kind)
}

func TestRouter_RouteSearchWhenUnknown(t *testing.T) {
	r := router.New()
	d := r.Route(id.Id{Seq: 5})
	assert.Equal(t, router.Search, d.Kind)
}

func TestRouter_RouteForwardLowestHops(t *testing.T) {
	r := router.New()
	target := id.Id{Seq: 9}

	near := router.NewConnection("near", func([]byte) error { return nil })
	near.Learn(target, 1)
	far := router.NewConnection("far", func([]byte) error { return nil })
	far.Learn(target, 3)

	r.AddConnection(near)
	r.AddConnection(far)

	d := r.Route(target)
	require.Equal(t, router.Forward, d.Kind)
	assert.Equal(t, near, d.Connection)
}

func TestConnection_LearnLowerHopsOverridesHigher(t *testing.T) {
	c := router.NewConnection("c", func([]byte) error { return nil })
	n := id.Id{Seq: 1}
	c.Learn(n, 5)
	c.Learn(n, 2)
	nf, ok := c.Lookup(n)
	require.True(t, ok)
	assert.Equal(t, uint8(2), nf.Hops)

	c.Learn(n, 9)
	nf, ok = c.Lookup(n)
	require.True(t, ok)
	assert.Equal(t, uint8(2), nf.Hops, "higher hop count must not override a lower one on file")
}

func TestConnection_FoundSupersedesUnfound(t *testing.T) {
	c := router.NewConnection("c", func([]byte) error { return nil })
	n := id.Id{Seq: 2}
	c.MarkUnfound(n)
	assert.True(t, c.IsUnfound(n))

	c.Learn(n, 1)
	assert.False(t, c.IsUnfound(n))
	_, ok := c.Lookup(n)
	assert.True(t, ok)
}

func TestConnection_MarkUnfoundIgnoredIfAlreadyFound(t *testing.T) {
	c := router.NewConnection("c", func([]byte) error { return nil })
	n := id.Id{Seq: 3}
	c.Learn(n, 1)
	c.MarkUnfound(n)
	assert.False(t, c.IsUnfound(n), "a node with a positive observation on file must not flip to unfound")
}

func TestRouter_RouteTieBreaksByMostRecentObservation(t *testing.T) {
	r := router.New()
	target := id.Id{Seq: 4}

	older := router.NewConnection("older", func([]byte) error { return nil })
	older.Learn(target, 2)
	time.Sleep(2 * time.Millisecond)
	newer := router.NewConnection("newer", func([]byte) error { return nil })
	newer.Learn(target, 2)

	r.AddConnection(older)
	r.AddConnection(newer)

	d := r.Route(target)
	require.Equal(t, router.Forward, d.Kind)
	assert.Equal(t, newer, d.Connection)
}
