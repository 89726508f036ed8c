// Package engine provides the core key-value storage engine: a
// log-structured store over a family of generation files, backed by an
// in-memory key directory, with crash recovery by replay and online
// compaction. It also defines the narrow Engine interface a second,
// unrelated backend (see internal/engine/btreeengine) satisfies, so the
// request server can hold either behind the same capability set.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jassi-singh/aether-kv/internal/config"
	"github.com/jassi-singh/aether-kv/internal/format"
	"github.com/jassi-singh/aether-kv/internal/keydir"
	"github.com/jassi-singh/aether-kv/internal/logfamily"
)

// ErrKeyNotFound is returned by Remove when the key has no mapping, and
// by Get when the key has never been set or was removed.
var ErrKeyNotFound = errors.New("engine: key not found")

// Engine is the capability set the request server depends on. Both
// KVEngine (this package) and btreeengine.BTreeEngine satisfy it; the
// server picks one at startup and never needs to know which.
type Engine interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Remove(key string) error
	Close() error
}

// KVEngine is the log-structured implementation of Engine: a family of
// append-only generation files plus an in-memory key directory pointing
// into them.
type KVEngine struct {
	cfg     *config.Config
	family  *logfamily.Family
	dir     *keydir.Directory
	readers map[uint64]*logfamily.Reader
	writer  *logfamily.Writer

	uncompacted uint64
}

// Open creates the data directory if absent, recovers the key directory
// by replaying every sealed generation in ascending order, and returns
// an engine whose active generation is ready for appends.
func Open(cfg *config.Config) (*KVEngine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config cannot be nil")
	}

	family, sealedIDs, nextID, err := logfamily.Open(cfg.DATA_DIR)
	if err != nil {
		return nil, fmt.Errorf("engine: opening log family: %w", err)
	}

	e := &KVEngine{
		cfg:     cfg,
		family:  family,
		dir:     keydir.New(),
		readers: make(map[uint64]*logfamily.Reader),
	}

	for _, id := range sealedIDs {
		reader, err := family.OpenReader(id)
		if err != nil {
			return nil, fmt.Errorf("engine: opening reader for generation %d: %w", id, err)
		}
		e.readers[id] = reader

		if err := e.replay(reader, id); err != nil {
			return nil, fmt.Errorf("engine: replaying generation %d: %w", id, err)
		}
	}

	writer, err := family.CreateGeneration(nextID)
	if err != nil {
		return nil, fmt.Errorf("engine: creating active generation %d: %w", nextID, err)
	}
	e.writer = writer

	reader, err := family.OpenReader(nextID)
	if err != nil {
		return nil, fmt.Errorf("engine: opening reader for active generation %d: %w", nextID, err)
	}
	e.readers[nextID] = reader

	slog.Info("engine: opened", "dir", cfg.DATA_DIR, "active_generation", nextID, "keys", e.dir.Len(), "uncompacted", e.uncompacted)
	return e, nil
}

// replay streams every record in generation id and applies it to the key
// directory, tracking uncompacted bytes: an Insert that overwrites a
// previous locator reclaims the previous record's length; a Remove
// reclaims the previous record's length plus the removal record's own
// length (the removal marker itself becomes reclaimable once its
// generation is eventually compacted away).
func (e *KVEngine) replay(reader *logfamily.Reader, id uint64) error {
	stream, err := reader.Stream(0)
	if err != nil {
		return err
	}

	return format.DecodeStream(stream, e.cfg.HEADER_SIZE, 0, func(dr format.DecodedRecord) bool {
		key := string(dr.Record.Key)
		recordLen := uint32(dr.End - dr.Start)

		switch dr.Record.Flag {
		case format.FlagInsert:
			previous, had := e.dir.Put(key, keydir.Locator{Generation: id, Offset: dr.Start, Length: recordLen})
			if had {
				e.uncompacted += uint64(previous.Length)
			}
		case format.FlagRemove:
			previous, had := e.dir.Delete(key)
			if had {
				e.uncompacted += uint64(previous.Length) + uint64(recordLen)
			}
		}
		return true
	})
}

// Get returns the current value for key, or ErrKeyNotFound if it has no
// mapping. It never mutates durable state.
func (e *KVEngine) Get(key string) (string, error) {
	loc, ok := e.dir.Get(key)
	if !ok {
		return "", ErrKeyNotFound
	}

	reader, ok := e.readers[loc.Generation]
	if !ok {
		return "", fmt.Errorf("engine: no reader open for generation %d", loc.Generation)
	}

	data, err := reader.ReadAt(loc.Offset, loc.Length)
	if err != nil {
		return "", fmt.Errorf("engine: reading record for key %q: %w", key, err)
	}

	record, err := format.Decode(data, e.cfg.HEADER_SIZE)
	if err != nil {
		return "", fmt.Errorf("engine: decoding record for key %q: %w", key, err)
	}
	if record.Flag != format.FlagInsert {
		return "", ErrKeyNotFound
	}

	slog.Debug("engine: get", "key", key, "generation", loc.Generation, "offset", loc.Offset)
	return string(record.Value), nil
}

// Set makes key map to value. The write is fsynced before Set returns,
// so it survives a crash immediately afterward.
func (e *KVEngine) Set(key string, value string) error {
	record := &format.Record{
		Timestamp: uint64(time.Now().Unix()),
		Keysize:   uint32(len(key)),
		Valuesize: uint32(len(value)),
		Flag:      format.FlagInsert,
		Key:       []byte(key),
		Value:     []byte(value),
	}

	data, err := record.Encode(e.cfg.HEADER_SIZE)
	if err != nil {
		return fmt.Errorf("engine: encoding record for key %q: %w", key, err)
	}

	pos := e.writer.Position()
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("engine: appending record for key %q: %w", key, err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("engine: flushing record for key %q: %w", key, err)
	}

	loc := keydir.Locator{Generation: e.writer.ID(), Offset: pos, Length: uint32(len(data))}
	previous, had := e.dir.Put(key, loc)
	if had {
		e.uncompacted += uint64(previous.Length)
	}

	slog.Info("engine: set", "key", key, "generation", loc.Generation, "offset", loc.Offset, "size", loc.Length)

	if e.uncompacted > e.cfg.COMPACTION_THRESHOLD {
		if err := e.compact(); err != nil {
			return fmt.Errorf("engine: compacting after set of key %q: %w", key, err)
		}
	}
	return nil
}

// Remove drops key's mapping. It fails with ErrKeyNotFound without
// writing anything if key is absent.
func (e *KVEngine) Remove(key string) error {
	previous, had := e.dir.Get(key)
	if !had {
		return ErrKeyNotFound
	}

	record := &format.Record{
		Timestamp: uint64(time.Now().Unix()),
		Keysize:   uint32(len(key)),
		Valuesize: 0,
		Flag:      format.FlagRemove,
		Key:       []byte(key),
		Value:     nil,
	}

	data, err := record.Encode(e.cfg.HEADER_SIZE)
	if err != nil {
		return fmt.Errorf("engine: encoding tombstone for key %q: %w", key, err)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("engine: appending tombstone for key %q: %w", key, err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("engine: flushing tombstone for key %q: %w", key, err)
	}

	e.dir.Delete(key)
	e.uncompacted += uint64(previous.Length) + uint64(len(data))

	slog.Info("engine: remove", "key", key)

	if e.uncompacted > e.cfg.COMPACTION_THRESHOLD {
		if err := e.compact(); err != nil {
			return fmt.Errorf("engine: compacting after remove of key %q: %w", key, err)
		}
	}
	return nil
}

// compact rewrites all live records into a fresh generation (comp) and
// opens a further generation (next) for future writes, then retires
// every older generation. comp/next are curr+1/curr+2 rather than
// renumbered from 1 — see DESIGN.md's note on generation-id growth.
func (e *KVEngine) compact() error {
	curr := e.writer.ID()
	comp := curr + 1
	next := curr + 2

	compWriter, err := e.family.CreateGeneration(comp)
	if err != nil {
		return fmt.Errorf("compacting: creating generation %d: %w", comp, err)
	}
	nextWriter, err := e.family.CreateGeneration(next)
	if err != nil {
		return fmt.Errorf("compacting: creating generation %d: %w", next, err)
	}

	compReader, err := e.family.OpenReader(comp)
	if err != nil {
		return fmt.Errorf("compacting: opening reader for generation %d: %w", comp, err)
	}
	nextReader, err := e.family.OpenReader(next)
	if err != nil {
		return fmt.Errorf("compacting: opening reader for generation %d: %w", next, err)
	}

	type rewrite struct {
		key string
		loc keydir.Locator
	}
	var rewrites []rewrite

	var copyErr error
	e.dir.Range(func(key string, loc keydir.Locator) {
		if copyErr != nil {
			return
		}
		reader, ok := e.readers[loc.Generation]
		if !ok {
			copyErr = fmt.Errorf("compacting: no reader open for generation %d", loc.Generation)
			return
		}
		data, err := reader.ReadAt(loc.Offset, loc.Length)
		if err != nil {
			copyErr = fmt.Errorf("compacting: copying key %q: %w", key, err)
			return
		}
		newOffset := compWriter.Position()
		if _, err := compWriter.Write(data); err != nil {
			copyErr = fmt.Errorf("compacting: writing key %q to generation %d: %w", key, comp, err)
			return
		}
		rewrites = append(rewrites, rewrite{key: key, loc: keydir.Locator{Generation: comp, Offset: newOffset, Length: loc.Length}})
	})
	if copyErr != nil {
		return copyErr
	}

	if err := compWriter.Flush(); err != nil {
		return fmt.Errorf("compacting: flushing generation %d: %w", comp, err)
	}
	if err := compWriter.Close(); err != nil {
		slog.Warn("engine: closing compacted generation writer", "generation", comp, "error", err)
	}

	for _, rw := range rewrites {
		e.dir.Set(rw.key, rw.loc)
	}

	staleGenerations := make([]uint64, 0, len(e.readers))
	for id := range e.readers {
		if id < comp {
			staleGenerations = append(staleGenerations, id)
		}
	}

	oldWriter := e.writer
	e.writer = nextWriter
	e.readers[comp] = compReader
	e.readers[next] = nextReader

	if err := oldWriter.Close(); err != nil {
		slog.Warn("engine: closing retired active writer", "generation", oldWriter.ID(), "error", err)
	}

	for _, id := range staleGenerations {
		reader := e.readers[id]
		delete(e.readers, id)
		if err := reader.Close(); err != nil {
			slog.Warn("engine: closing reader before retiring generation", "generation", id, "error", err)
		}
		if err := e.family.Retire(id); err != nil {
			return fmt.Errorf("compacting: retiring generation %d: %w", id, err)
		}
	}

	e.uncompacted = 0
	slog.Info("engine: compacted", "compacted_generation", comp, "active_generation", next, "retired", staleGenerations)
	return nil
}

// Close flushes and closes every open generation handle.
func (e *KVEngine) Close() error {
	var firstErr error
	if e.writer != nil {
		if err := e.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for id, reader := range e.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: closing reader for generation %d: %w", id, err)
		}
	}
	slog.Info("engine: closed", "keys", e.dir.Len())
	return firstErr
}

// KeyCount returns the number of keys currently in the in-memory key
// directory, used by diagnostics and tests.
func (e *KVEngine) KeyCount() int {
	return e.dir.Len()
}
