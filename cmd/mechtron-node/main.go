// Command mechtron-node boots a single mechtron runtime node: a Central
// bootstrap node if --central is set, otherwise a mesh node that dials
// --join to learn its seq and join the cluster (spec.md §4.7). Replaces
// the teacher's cmd/inos-node, which wired the same libp2p
// StartNodeWithStreams/wasm.Execute pair directly into main rather than
// through the wire/router/discovery state machine this runtime adds.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uberscott/mechtron/internal/discovery"
	"github.com/uberscott/mechtron/internal/router"
	"github.com/uberscott/mechtron/internal/transport"
	"github.com/uberscott/mechtron/internal/wire"
)

func main() {
	central := flag.Bool("central", false, "run as the cluster's Central bootstrap node")
	identityPath := flag.String("identity", "node_identity.json", "path to this node's persisted libp2p identity")
	join := flag.String("join", "", "multiaddr of an existing node to dial on startup")
	wsAddr := flag.String("ws", "", "optional address to also serve the wire protocol over websocket (host:port)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var node *discovery.Node
	if *central {
		node = discovery.NewCentral()
		log.Info("starting as Central", "id", mustId(node))
	} else {
		node = discovery.NewNode(discovery.Mesh)
		log.Info("starting as mesh node, awaiting seq handshake")
	}

	r := router.New()
	listener := discovery.New(node, r, log)

	host, err := transport.NewHost(*identityPath, log)
	if err != nil {
		log.Error("failed to start libp2p host", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.Serve(ctx, r, listener)
	log.Info("listening", "addr", host.Addr())

	if *wsAddr != "" {
		go serveWS(*wsAddr, r, listener, log)
	}

	if *join != "" {
		conn, err := host.Dial(ctx, *join, r, listener)
		if err != nil {
			log.Error("failed to dial join target", "addr", *join, "err", err)
			os.Exit(1)
		}
		if err := conn.TrySend(mustEncode(wire.ReportVersion())); err != nil {
			log.Error("failed to send initial handshake", "err", err)
		}
	}

	go evictLoop(ctx, listener)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

func mustId(n *discovery.Node) string {
	id, _ := n.Id()
	return id.String()
}

func mustEncode(f wire.Frame) []byte {
	b, err := wire.Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

func evictLoop(ctx context.Context, listener *discovery.Listener) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			listener.EvictExpiredPending()
		}
	}
}

func serveWS(addr string, r *router.Router, listener *discovery.Listener, log *slog.Logger) {
	ws := transport.NewWSServer(log)
	mux := http.NewServeMux()
	mux.HandleFunc("/wire", ws.Handler(r, listener))
	log.Info("serving websocket transport", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("websocket server failed", "err", err)
	}
}
