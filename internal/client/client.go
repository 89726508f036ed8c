// Package client implements the request-side half of the wire protocol:
// dial, send one framed request, read one framed response, done. The
// store's client is deliberately connection-per-request, matching the
// one-shot command invocations of the CLI.
package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/jassi-singh/aether-kv/internal/protocol"
)

// Client sends one request per Call and closes its connection afterward.
type Client struct {
	addr            string
	dialTimeout     time.Duration
	maxMessageBytes uint32
}

// New constructs a Client that dials addr for each call.
func New(addr string, maxMessageBytes uint32) *Client {
	return &Client{
		addr:            addr,
		dialTimeout:     5 * time.Second,
		maxMessageBytes: maxMessageBytes,
	}
}

// Get requests the value for key. ok is false if the server reports the
// key was not found; err is non-nil only for a transport or protocol
// failure.
func (c *Client) Get(key string) (value string, ok bool, err error) {
	resp, err := c.call(protocol.Request{Op: protocol.OpGet, Key: key})
	if err != nil {
		return "", false, err
	}
	if resp.Error != "" {
		return "", false, nil
	}
	return resp.Ok, resp.Found, nil
}

// Set stores key/value. err is non-nil for both transport failures and
// server-reported errors.
func (c *Client) Set(key, value string) error {
	resp, err := c.call(protocol.Request{Op: protocol.OpSet, Key: key, Value: value})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("client: set %q: %s", key, resp.Error)
	}
	return nil
}

// Remove deletes key. found is false when the server reports the key
// was absent; err is non-nil only for a transport or protocol failure.
func (c *Client) Remove(key string) (found bool, err error) {
	resp, err := c.call(protocol.Request{Op: protocol.OpRemove, Key: key})
	if err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, nil
	}
	return true, nil
}

func (c *Client) call(req protocol.Request) (protocol.Response, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("client: dialing %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("client: sending request: %w", err)
	}

	var resp protocol.Response
	if err := protocol.ReadMessage(bufio.NewReader(conn), c.maxMessageBytes, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("client: reading response: %w", err)
	}
	return resp, nil
}
