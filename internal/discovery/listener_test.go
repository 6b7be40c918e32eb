package discovery_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uberscott/mechtron/internal/discovery"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/router"
	"github.com/uberscott/mechtron/internal/wire"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListener_CentralBootstrapHandshake(t *testing.T) {
	central := discovery.NewCentral()
	r := router.New()
	l := discovery.New(central, r, quietLog())

	conn := router.NewConnection("toA", func([]byte) error { return nil })

	out, err := l.Dispatch(conn, wire.RequestUniqueSeq())
	require.NoError(t, err)
	require.Len(t, out.Sends, 1)
	assert.Equal(t, wire.TagReportUniqueSeq, out.Sends[0].Frame.Tag)
	assert.Equal(t, int64(1), out.Sends[0].Frame.Seq)
}

func TestListener_NonCentralNodeInitializesFromReportUniqueSeq(t *testing.T) {
	node := discovery.NewNode(discovery.Server)
	r := router.New()
	l := discovery.New(node, r, quietLog())

	assert.False(t, node.AcceptsLocalWork())

	out, err := l.Dispatch(nil, wire.ReportUniqueSeq(7))
	require.NoError(t, err)
	require.Len(t, out.Sends, 1)
	assert.Equal(t, wire.TagReportNodeId, out.Sends[0].Frame.Tag)
	assert.Equal(t, int64(7), out.Sends[0].Frame.NodeId.Seq)

	assert.True(t, node.AcceptsLocalWork())
	gotId, init := node.Id()
	require.True(t, init)
	assert.Equal(t, id.Id{Seq: 7, Index: 0}, gotId)
}

func TestListener_ReportNodeIdRegistersRoute(t *testing.T) {
	node := discovery.NewCentral()
	r := router.New()
	l := discovery.New(node, r, quietLog())

	conn := router.NewConnection("peer", func([]byte) error { return nil })
	target := id.Id{Seq: 5, Index: 0}

	_, err := l.Dispatch(conn, wire.ReportNodeId(target))
	require.NoError(t, err)

	d := r.Route(target)
	require.Equal(t, router.Forward, d.Kind)
	assert.Equal(t, conn, d.Connection)
}

func TestListener_NodeSearchFoundRepliesWithRelay(t *testing.T) {
	node := discovery.NewCentral() // acts as the node being searched for
	nodeId, _ := node.Id()
	r := router.New()
	l := discovery.New(node, r, quietLog())

	conn := router.NewConnection("peer", func([]byte) error { return nil })
	search := wire.Search{From: id.Id{Seq: 9}, Seeking: nodeId, Hops: 0}

	out, err := l.Dispatch(conn, wire.NodeSearch(search))
	require.NoError(t, err)
	require.Len(t, out.Sends, 1)
	assert.Equal(t, wire.TagRelay, out.Sends[0].Frame.Tag)
	require.NotNil(t, out.Sends[0].Frame.Inner)
	assert.Equal(t, wire.TagNodeFound, out.Sends[0].Frame.Inner.Tag)
	// The reply must carry the distance through this hop, not the
	// pre-increment count the search arrived with.
	assert.Equal(t, uint8(1), out.Sends[0].Frame.Inner.Search.Hops)
}

func TestListener_NodeSearchFloodsBumpedHopsAndMarksOriginUnfound(t *testing.T) {
	node := discovery.NewNode(discovery.Mesh)
	r := router.New()
	l := discovery.New(node, r, quietLog())

	origin := router.NewConnection("origin", func([]byte) error { return nil })
	other := router.NewConnection("other", func([]byte) error { return nil })
	r.AddConnection(origin)
	r.AddConnection(other)

	from := id.Id{Seq: 1}
	seeking := id.Id{Seq: 2}
	search := wire.Search{From: from, Seeking: seeking, Hops: 1}

	out, err := l.Dispatch(origin, wire.NodeSearch(search))
	require.NoError(t, err)
	require.Len(t, out.Sends, 1)
	assert.Equal(t, other, out.Sends[0].Conn)
	assert.Equal(t, uint8(2), out.Sends[0].Frame.Search.Hops)

	nf, ok := origin.Lookup(from)
	require.True(t, ok)
	assert.Equal(t, uint8(2), nf.Hops)
	assert.True(t, origin.IsUnfound(seeking))
}

func TestListener_NestedRelayRejected(t *testing.T) {
	node := discovery.NewCentral()
	r := router.New()
	l := discovery.New(node, r, quietLog())

	inner := wire.ReportUniqueSeq(1)
	outer := wire.Frame{Tag: wire.TagRelay, RelayTo: id.Id{}, Inner: &wire.Frame{Tag: wire.TagRelay, Inner: &inner}}

	_, err := l.Dispatch(nil, outer)
	require.Error(t, err)
}
