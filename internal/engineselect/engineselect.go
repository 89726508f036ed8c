// Package engineselect owns the "engine.conf" sidecar file that records
// which storage engine backend a data directory was opened with. A
// directory's engine choice is fixed the first time it is opened; a
// later start with a different --engine flag is rejected rather than
// silently mixing two incompatible on-disk formats in one directory.
package engineselect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KVS and Btree are the two recognized engine tags. They double as the
// contents of engine.conf. Btree's wire value is "sled" rather than
// "btree" to match the CLI's documented --engine {kvs|sled} surface,
// even though the backend itself is google/btree rather than an
// embedded sled store.
const (
	KVS   = "kvs"
	Btree = "sled"
)

// ErrEngineMismatch is returned when the requested engine disagrees with
// the tag already recorded in a data directory's engine.conf.
var ErrEngineMismatch = errors.New("engineselect: requested engine does not match engine.conf")

const sidecarName = "engine.conf"

// Resolve checks dir's engine.conf sidecar against requested ("kvs" or
// "sled"). If no sidecar exists yet, it is created recording requested.
// If one exists and disagrees, ErrEngineMismatch is returned without
// touching the directory further.
func Resolve(dir string, requested string) (string, error) {
	path := filepath.Join(dir, sidecarName)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("engineselect: creating data directory %s: %w", dir, err)
		}
		if err := os.WriteFile(path, []byte(requested), 0o644); err != nil {
			return "", fmt.Errorf("engineselect: writing %s: %w", sidecarName, err)
		}
		return requested, nil
	case err != nil:
		return "", fmt.Errorf("engineselect: reading %s: %w", sidecarName, err)
	}

	existing := strings.TrimSpace(string(data))
	if existing != requested {
		return "", fmt.Errorf("%w: data directory is %q, requested %q", ErrEngineMismatch, existing, requested)
	}
	return existing, nil
}
