// Package transport supplies concrete, out-of-core Connection
// implementations for the router/discovery wire state machine, which is
// itself transport-agnostic (spec.md §6). Two backends are provided:
// libp2p (this file), grounded on internal/network/mesh.go's
// StartNodeWithStreams/SendPacket pair, and websocket
// (wstransport.go) for edge/browser deployments the teacher's mesh
// layer does not reach.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/uberscott/mechtron/internal/discovery"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/router"
	"github.com/uberscott/mechtron/internal/wire"
)

const protocolID = "/mechtron/wire/1.0.0"

// identity is the on-disk form of a libp2p keypair, generalized from the
// teacher's hardcoded node_identity.json path (internal/network/mesh.go's
// PersistentIdentity) to a caller-supplied path, since one machine may
// run more than one node process in tests and local clusters.
type identity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

func loadOrCreateKey(path string) (crypto.PrivKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		var id identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, errs.New(errs.ConfigurationError, "corrupt identity file: "+err.Error())
		}
		return crypto.UnmarshalPrivateKey(id.PrivKey)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "key generation failed: "+err.Error())
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "peer id derivation failed: "+err.Error())
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "key marshal failed: "+err.Error())
	}
	data, err := json.Marshal(identity{PrivKey: privBytes, PeerID: pid.String()})
	if err != nil {
		return nil, err
	}
	_ = os.WriteFile(path, data, 0600)
	return priv, nil
}

// Host is a libp2p-backed transport: inbound streams are decoded into
// wire.Frame dispatches against a discovery.Listener; outbound
// router.Connections are backed by a persistent stream per remote peer.
type Host struct {
	host libp2phost.Host
	log  *slog.Logger

	mu    sync.Mutex
	conns map[peer.ID]*router.Connection
}

// NewHost loads or creates a persistent identity at identityPath and
// starts a libp2p host under it.
func NewHost(identityPath string, log *slog.Logger) (*Host, error) {
	priv, err := loadOrCreateKey(identityPath)
	if err != nil {
		return nil, err
	}
	h, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return nil, errs.New(errs.TransportError, "libp2p host start failed: "+err.Error())
	}
	return &Host{host: h, log: log, conns: make(map[peer.ID]*router.Connection)}, nil
}

// Addr returns this host's dialable multiaddress, empty if it has no
// listen addresses yet.
func (h *Host) Addr() string {
	addrs := h.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0].String(), h.host.ID().String())
}

// Serve registers the wire protocol stream handler: every inbound stream
// becomes a router.Connection (registered with r) whose frames are
// handed to listener.Dispatch, and whose Sends are written back out on
// the right connection.
func (h *Host) Serve(ctx context.Context, r *router.Router, listener *discovery.Listener) {
	h.host.SetStreamHandler(protocolID, func(s network.Stream) {
		remote := s.Conn().RemotePeer()
		conn := h.registerConn(remote, s, r)
		h.readLoop(s, conn, r, listener)
	})
}

func (h *Host) registerConn(remote peer.ID, s network.Stream, r *router.Router) *router.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[remote]; ok {
		return c
	}
	conn := router.NewConnection(remote.String(), func(data []byte) error {
		_, err := s.Write(data)
		return err
	})
	h.conns[remote] = conn
	r.AddConnection(conn)
	return conn
}

func (h *Host) readLoop(s network.Stream, conn *router.Connection, r *router.Router, listener *discovery.Listener) {
	defer s.Close()
	for {
		f, err := wire.ReadFrame(s)
		if err != nil {
			h.log.Warn("stream read failed, closing", "peer", conn.Name, "err", err)
			r.RemoveConnection(conn.Name)
			return
		}
		outcome, err := listener.Dispatch(conn, f)
		if err != nil {
			h.log.Error("dispatch failed", "peer", conn.Name, "err", err)
			continue
		}
		for _, snd := range outcome.Sends {
			target := snd.Conn
			if target == nil {
				target = conn
			}
			body, err := wire.Encode(snd.Frame)
			if err != nil {
				h.log.Error("encode failed", "err", err)
				continue
			}
			if err := target.TrySend(body); err != nil {
				h.log.Warn("send failed", "peer", target.Name, "err", err)
			}
		}
		if outcome.CloseOrigin {
			r.RemoveConnection(conn.Name)
			return
		}
	}
}

// Dial opens a persistent stream to peerAddr (a full /p2p multiaddr) and
// registers it as a router.Connection, driving its inbound frames
// through listener exactly like an accepted stream does.
func (h *Host) Dial(ctx context.Context, peerAddr string, r *router.Router, listener *discovery.Listener) (*router.Connection, error) {
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "bad multiaddr: "+err.Error())
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "bad peer addr: "+err.Error())
	}
	if err := h.host.Connect(ctx, *info); err != nil {
		return nil, errs.New(errs.TransportError, "connect failed: "+err.Error())
	}
	s, err := h.host.NewStream(ctx, info.ID, protocolID)
	if err != nil {
		return nil, errs.New(errs.TransportError, "stream open failed: "+err.Error())
	}
	conn := h.registerConn(info.ID, s, r)
	go h.readLoop(s, conn, r, listener)
	return conn, nil
}
