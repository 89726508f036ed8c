// Package protocol defines the wire format spoken between the client
// and the request server: a length-prefixed JSON frame carrying one
// Request or one Response per round trip.
//
// A third-party RPC/serialization library would be the idiomatic
// choice here if one were in real use anywhere in the example pack,
// but none of the reference repos actually import gob, msgpack,
// protobuf or similar over the wire. encoding/json is used instead,
// deliberately: DisallowUnknownFields gives the "reject unknown
// fields" requirement for free, and the 4-byte length prefix gives
// length-delimited framing with a size bound checked before the
// read, so a malformed or hostile length never triggers an
// unbounded allocation.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Op names the operation a Request carries.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

// Request is the tagged union of client commands. Key is set for all
// three ops; Value is set only for Set.
type Request struct {
	Op    Op     `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Response is the tagged union of server replies. Exactly one of Ok or
// Error is meaningful per the server's response-mapping rules; Found
// distinguishes "get succeeded with a value" from "get found nothing"
// when Ok is the empty string.
type Response struct {
	Ok    string `json:"ok,omitempty"`
	Found bool   `json:"found,omitempty"`
	Error string `json:"error,omitempty"`
}

// maxFrameLen bounds a single frame's declared length, independent of
// the configured MAX_MESSAGE_BYTES, as a hard backstop against a
// corrupt or adversarial 4-byte prefix.
const maxFrameLen = 1 << 30

// WriteMessage marshals v to JSON and writes it to w as a 4-byte
// big-endian length prefix followed by the JSON bytes.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshaling message: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("protocol: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: writing message body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON frame from r and decodes
// it into v. maxBytes bounds the frame length that will be accepted;
// a declared length beyond maxBytes (or maxFrameLen) is rejected
// before any body bytes are read.
func ReadMessage(r *bufio.Reader, maxBytes uint32, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameLen || (maxBytes != 0 && length > maxBytes) {
		return fmt.Errorf("protocol: frame length %d exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("protocol: reading message body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("protocol: decoding message: %w", err)
	}
	return nil
}
