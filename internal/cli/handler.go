// Package cli provides an interactive command-line interface for the
// key-value store. It parses user commands and executes them against a
// running server over the network, rather than against an embedded
// engine, so the REPL is just another client of the same wire protocol
// the get/set/rm subcommands use.
package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jassi-singh/aether-kv/internal/client"
)

// Handler manages the interactive command-line interface.
type Handler struct {
	client  *client.Client
	scanner *bufio.Scanner
}

// NewHandler creates a new CLI handler talking to the server at addr.
func NewHandler(addr string, maxMessageBytes uint32) *Handler {
	return &Handler{
		client:  client.New(addr, maxMessageBytes),
		scanner: bufio.NewScanner(os.Stdin),
	}
}

// Run starts the interactive command loop, processing user input until
// an exit command is received or an error occurs.
func (h *Handler) Run() error {
	fmt.Println("Aether KV - Simple Key-Value Store")
	fmt.Println("Commands: PUT <key> <value>, GET <key>, DELETE <key>, EXIT")
	fmt.Print("> ")

	for h.scanner.Scan() {
		line := strings.TrimSpace(h.scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		command := strings.ToUpper(parts[0])

		switch command {
		case "PUT":
			h.handlePut(parts)
		case "GET":
			h.handleGet(parts)
		case "DELETE":
			h.handleDelete(parts)
		case "EXIT", "QUIT":
			slog.Info("cli: shutdown requested by user")
			fmt.Println("Goodbye!")
			return nil
		default:
			slog.Warn("cli: unknown command received", "command", command)
			fmt.Printf("Unknown command: %s\n", command)
			fmt.Println("Commands: PUT <key> <value>, GET <key>, DELETE <key>, EXIT")
		}

		fmt.Print("> ")
	}

	if err := h.scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}

	return nil
}

// handlePut processes PUT commands to store key-value pairs.
func (h *Handler) handlePut(parts []string) {
	if len(parts) < 3 {
		slog.Warn("cli: invalid PUT command - missing arguments")
		fmt.Println("Usage: PUT <key> <value>")
		return
	}

	key := parts[1]
	value := strings.Join(parts[2:], " ")

	slog.Debug("cli: executing PUT command", "key", key, "value_size", len(value))

	if err := h.client.Set(key, value); err != nil {
		slog.Error("cli: PUT command failed", "key", key, "error", err)
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

// handleGet processes GET commands to retrieve values by key.
func (h *Handler) handleGet(parts []string) {
	if len(parts) < 2 {
		slog.Warn("cli: invalid GET command - missing key")
		fmt.Println("Usage: GET <key>")
		return
	}

	key := parts[1]
	slog.Debug("cli: executing GET command", "key", key)

	value, found, err := h.client.Get(key)
	if err != nil {
		slog.Error("cli: GET command failed", "key", key, "error", err)
		fmt.Printf("Error: %v\n", err)
		return
	}
	if !found {
		fmt.Println("Key not found")
		return
	}
	fmt.Printf("%s\n", value)
}

// handleDelete processes DELETE commands to remove keys.
func (h *Handler) handleDelete(parts []string) {
	if len(parts) < 2 {
		slog.Warn("cli: invalid DELETE command - missing key")
		fmt.Println("Usage: DELETE <key>")
		return
	}

	key := parts[1]
	slog.Debug("cli: executing DELETE command", "key", key)

	found, err := h.client.Remove(key)
	if err != nil {
		slog.Error("cli: DELETE command failed", "key", key, "error", err)
		fmt.Printf("Error: %v\n", err)
		return
	}
	if !found {
		fmt.Println("Key not found")
		return
	}
	fmt.Println("OK")
}
