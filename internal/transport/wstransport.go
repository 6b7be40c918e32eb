package transport

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/uberscott/mechtron/internal/discovery"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/router"
	"github.com/uberscott/mechtron/internal/wire"
)

// WSServer exposes the wire protocol over a websocket endpoint, for
// browser and edge-node deployments the libp2p mesh does not reach
// (spec.md §6's transport-agnostic boundary). Same Dispatch/Send loop as
// Host, over websocket message framing instead of a raw stream.
type WSServer struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu    sync.Mutex
	conns map[string]*router.Connection
}

func NewWSServer(log *slog.Logger) *WSServer {
	return &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[string]*router.Connection),
	}
}

// Handler returns an http.HandlerFunc upgrading each request to a
// websocket connection driven through r and listener exactly like a
// libp2p stream.
func (s *WSServer) Handler(r *router.Router, listener *discovery.Listener) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := s.upgrader.Upgrade(w, req, nil)
		if err != nil {
			s.log.Error("websocket upgrade failed", "err", err)
			return
		}
		name := req.RemoteAddr
		conn := s.registerConn(name, ws, r)
		s.readLoop(ws, conn, r, listener)
	}
}

func (s *WSServer) registerConn(name string, ws *websocket.Conn, r *router.Router) *router.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	var writeMu sync.Mutex
	conn := router.NewConnection(name, func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.BinaryMessage, data)
	})
	s.conns[name] = conn
	r.AddConnection(conn)
	return conn
}

func (s *WSServer) readLoop(ws *websocket.Conn, conn *router.Connection, r *router.Router, listener *discovery.Listener) {
	defer ws.Close()
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			s.log.Warn("websocket read failed, closing", "peer", conn.Name, "err", err)
			r.RemoveConnection(conn.Name)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f, err := wire.ReadFrame(bytes.NewReader(data))
		if err != nil {
			s.log.Error("frame decode failed", "peer", conn.Name, "err", err)
			continue
		}
		outcome, err := listener.Dispatch(conn, f)
		if err != nil {
			s.log.Error("dispatch failed", "peer", conn.Name, "err", err)
			continue
		}
		for _, snd := range outcome.Sends {
			target := snd.Conn
			if target == nil {
				target = conn
			}
			body, err := wire.Encode(snd.Frame)
			if err != nil {
				s.log.Error("encode failed", "err", err)
				continue
			}
			if err := target.TrySend(body); err != nil {
				s.log.Warn("send failed", "peer", target.Name, "err", err)
			}
		}
		if outcome.CloseOrigin {
			r.RemoveConnection(conn.Name)
			return
		}
	}
}

// DialWS opens a client-side websocket connection to addr (a ws:// or
// wss:// URL) and registers it as a router.Connection.
func DialWS(addr string, r *router.Router, listener *discovery.Listener, log *slog.Logger) (*router.Connection, error) {
	ws, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, errs.New(errs.TransportError, "websocket dial failed: "+err.Error())
	}
	s := &WSServer{log: log, conns: make(map[string]*router.Connection)}
	conn := s.registerConn(addr, ws, r)
	go s.readLoop(ws, conn, r, listener)
	return conn, nil
}
