package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/jassi-singh/aether-kv/internal/client"
	"github.com/jassi-singh/aether-kv/internal/config"
	"github.com/jassi-singh/aether-kv/internal/engine"
	"github.com/jassi-singh/aether-kv/internal/protocol"
)

func startTestServer(t *testing.T) (addr string, eng *engine.KVEngine) {
	t.Helper()

	cfg := config.Default()
	cfg.DATA_DIR = t.TempDir()

	eng, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("engine.Open() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	s := New(ln.Addr().String(), eng, cfg.MAX_CONNECTIONS, cfg.MAX_MESSAGE_BYTES)
	s.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() { s.Close() })

	return ln.Addr().String(), eng
}

func TestServerGetSetRemove(t *testing.T) {
	addr, _ := startTestServer(t)
	c := client.New(addr, 0)

	if _, found, err := c.Get("missing"); err != nil || found {
		t.Errorf("Get(missing) = (_, %v, %v), want (_, false, nil)", found, err)
	}

	if err := c.Set("a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := c.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "1" {
		t.Errorf("Get(a) = (%q, %v), want (\"1\", true)", value, found)
	}

	removed, err := c.Remove("a")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("Remove(a) found = false, want true")
	}

	if _, found, err := c.Get("a"); err != nil || found {
		t.Errorf("Get(a) after remove = (_, %v, %v), want (_, false, nil)", found, err)
	}
}

func TestServerRemoveAbsentKey(t *testing.T) {
	addr, _ := startTestServer(t)
	c := client.New(addr, 0)

	found, err := c.Remove("missing")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if found {
		t.Error("Remove(missing) found = true, want false")
	}
}

func TestServerServesMultipleRequestsOnOneConnection(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	exchange := func(req protocol.Request) protocol.Response {
		t.Helper()
		if err := protocol.WriteMessage(conn, req); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		var resp protocol.Response
		if err := protocol.ReadMessage(reader, 0, &resp); err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		return resp
	}

	if resp := exchange(protocol.Request{Op: protocol.OpSet, Key: "k", Value: "v1"}); resp.Error != "" {
		t.Fatalf("set k=v1: unexpected error %q", resp.Error)
	}
	if resp := exchange(protocol.Request{Op: protocol.OpGet, Key: "k"}); resp.Error != "" || resp.Ok != "v1" {
		t.Fatalf("get k after first set = %+v, want ok=v1", resp)
	}
	if resp := exchange(protocol.Request{Op: protocol.OpSet, Key: "k", Value: "v2"}); resp.Error != "" {
		t.Fatalf("set k=v2: unexpected error %q", resp.Error)
	}
	if resp := exchange(protocol.Request{Op: protocol.OpGet, Key: "k"}); resp.Error != "" || resp.Ok != "v2" {
		t.Fatalf("get k after second set = %+v, want ok=v2 (same connection must carry both writes in order)", resp)
	}
	if resp := exchange(protocol.Request{Op: protocol.OpRemove, Key: "k"}); resp.Error != "" {
		t.Fatalf("remove k: unexpected error %q", resp.Error)
	}
	if resp := exchange(protocol.Request{Op: protocol.OpGet, Key: "k"}); resp.Error == "" {
		t.Fatalf("get k after remove = %+v, want key-not-found error", resp)
	}
}

func TestServerClosesConnectionOnMalformedFrame(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not a valid frame")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected connection to be closed on malformed frame")
	}
}
