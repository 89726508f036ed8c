// Package btreeengine implements the alternate storage engine
// collaborator: an ordered in-memory map built on google/btree's generic
// BTreeG, the same ordered-map structure used for secondary indexes
// elsewhere in the example pack, with its own durability scheme
// entirely separate from the log-structured core in internal/engine.
//
// Durability here is a full-map snapshot: every mutation rewrites
// "snapshot.db" from the current tree contents and fsyncs it. That is
// simpler than log-structured durability and deliberately so — this
// engine exists to give the server a second, architecturally distinct
// backend to select between, not to out-perform the log-structured one.
package btreeengine

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
)

// ErrKeyNotFound is returned by Remove when the key has no mapping, and
// by Get when the key has never been set or was removed. It mirrors
// engine.ErrKeyNotFound without importing that package, keeping this
// backend free of any dependency on the log-structured implementation.
var ErrKeyNotFound = errors.New("btreeengine: key not found")

const snapshotFile = "snapshot.db"

const treeDegree = 32

type entry struct {
	Key   string
	Value string
}

func less(a, b entry) bool { return a.Key < b.Key }

// BTreeEngine is an ordered-map storage engine. It satisfies the same
// Engine capability set (Get/Set/Remove/Close) as the log-structured
// KVEngine.
type BTreeEngine struct {
	mu   sync.Mutex
	tree *btree.BTreeG[entry]
	path string
}

// Open loads an existing snapshot from dir, if any, into a fresh
// in-memory btree, or starts empty. It creates dir if absent.
func Open(dir string) (*BTreeEngine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("btreeengine: creating data directory %s: %w", dir, err)
	}

	e := &BTreeEngine{
		tree: btree.NewG[entry](treeDegree, less),
		path: filepath.Join(dir, snapshotFile),
	}

	entries, err := loadSnapshot(e.path)
	if err != nil {
		return nil, fmt.Errorf("btreeengine: loading snapshot: %w", err)
	}
	for _, en := range entries {
		e.tree.ReplaceOrInsert(en)
	}

	slog.Info("btreeengine: opened", "dir", dir, "keys", e.tree.Len())
	return e, nil
}

func loadSnapshot(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return entries, nil
}

// persist rewrites the snapshot file from the tree's current contents
// and fsyncs it. Must be called with mu held.
func (e *BTreeEngine) persist() error {
	entries := make([]entry, 0, e.tree.Len())
	e.tree.Ascend(func(en entry) bool {
		entries = append(entries, en)
		return true
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := e.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening snapshot temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}

// Get returns the current value for key, or ErrKeyNotFound.
func (e *BTreeEngine) Get(key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	found, ok := e.tree.Get(entry{Key: key})
	if !ok {
		return "", ErrKeyNotFound
	}
	return found.Value, nil
}

// Set makes key map to value, flushing the snapshot before returning.
func (e *BTreeEngine) Set(key string, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tree.ReplaceOrInsert(entry{Key: key, Value: value})
	if err := e.persist(); err != nil {
		return fmt.Errorf("btreeengine: set %q: %w", key, err)
	}
	return nil
}

// Remove drops key's mapping, flushing the snapshot before returning.
// It fails with ErrKeyNotFound if key is absent.
func (e *BTreeEngine) Remove(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, had := e.tree.Delete(entry{Key: key})
	if !had {
		return ErrKeyNotFound
	}
	if err := e.persist(); err != nil {
		return fmt.Errorf("btreeengine: remove %q: %w", key, err)
	}
	return nil
}

// Close is a no-op beyond logging: every mutation already flushed the
// snapshot to disk, so there is nothing buffered to release.
func (e *BTreeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	slog.Info("btreeengine: closed", "keys", e.tree.Len())
	return nil
}
