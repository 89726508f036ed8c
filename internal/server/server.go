// Package server accepts TCP connections speaking the protocol package's
// framed request/response wire format and dispatches each request to an
// underlying engine.Engine, serializing access with a single mutex since
// neither backend is otherwise safe for concurrent mutation.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/jassi-singh/aether-kv/internal/engine"
	"github.com/jassi-singh/aether-kv/internal/protocol"
)

// Server listens on a single address and serves the wire protocol.
type Server struct {
	addr            string
	maxMessageBytes uint32

	mu     sync.Mutex
	engine engine.Engine

	listener net.Listener
	conns    chan struct{}
}

// New constructs a Server bound to eng. maxConnections bounds how many
// connections may be handled concurrently; further connections are
// accepted and held until a slot frees up.
func New(addr string, eng engine.Engine, maxConnections uint32, maxMessageBytes uint32) *Server {
	if maxConnections == 0 {
		maxConnections = 1
	}
	return &Server{
		addr:            addr,
		maxMessageBytes: maxMessageBytes,
		engine:          eng,
		conns:           make(chan struct{}, maxConnections),
	}
}

// ListenAndServe binds addr and serves connections until the listener is
// closed (typically via Close, called from a shutdown hook).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.addr, err)
	}
	s.listener = ln

	slog.Info("server: listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				slog.Info("server: listener closed")
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		go s.serve(conn)
	}
}

// Close stops accepting new connections. In-flight connections run to
// completion on their own.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serve(conn net.Conn) {
	connID := uuid.New().String()
	s.conns <- struct{}{}
	defer func() { <-s.conns }()
	defer conn.Close()

	slog.Info("server: connection opened", "conn", connID, "remote", conn.RemoteAddr())
	defer slog.Info("server: connection closed", "conn", connID)

	reader := bufio.NewReader(conn)

	for {
		var req protocol.Request
		if err := protocol.ReadMessage(reader, s.maxMessageBytes, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("server: reading request", "conn", connID, "error", err)
			return
		}

		resp := s.dispatch(connID, req)

		if err := protocol.WriteMessage(conn, resp); err != nil {
			slog.Warn("server: writing response", "conn", connID, "error", err)
			return
		}
	}
}

// dispatch executes one request against the engine under the server's
// mutex and maps the outcome to a wire response per the get/set/remove
// response rules: a successful get carries Found=true; a miss, an
// absent key on remove, and any other engine error all surface as
// Response.Error rather than a transport-level failure.
func (s *Server) dispatch(connID string, req protocol.Request) protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Op {
	case protocol.OpGet:
		value, err := s.engine.Get(req.Key)
		if err != nil {
			slog.Debug("server: get miss", "conn", connID, "key", req.Key, "error", err)
			return protocol.Response{Error: "key not found"}
		}
		slog.Info("server: get", "conn", connID, "key", req.Key)
		return protocol.Response{Ok: value, Found: true}

	case protocol.OpSet:
		if err := s.engine.Set(req.Key, req.Value); err != nil {
			slog.Error("server: set failed", "conn", connID, "key", req.Key, "error", err)
			return protocol.Response{Error: err.Error()}
		}
		slog.Info("server: set", "conn", connID, "key", req.Key)
		return protocol.Response{}

	case protocol.OpRemove:
		if err := s.engine.Remove(req.Key); err != nil {
			if errors.Is(err, engine.ErrKeyNotFound) {
				slog.Debug("server: remove miss", "conn", connID, "key", req.Key)
				return protocol.Response{Error: "key not found"}
			}
			slog.Error("server: remove failed", "conn", connID, "key", req.Key, "error", err)
			return protocol.Response{Error: err.Error()}
		}
		slog.Info("server: remove", "conn", connID, "key", req.Key)
		return protocol.Response{}

	default:
		slog.Warn("server: unknown command", "conn", connID, "op", req.Op)
		return protocol.Response{Error: "unknown command"}
	}
}
