// Package keydir implements the in-memory key directory: the index from
// key to the byte range of its authoritative record in the log family.
// It carries no durability of its own — crash recovery rebuilds it by
// replaying the log family (see internal/engine).
package keydir

import "sync"

// Locator identifies the byte range of a record in one generation file.
type Locator struct {
	Generation uint64
	Offset     int64
	Length     uint32
}

// Directory maps keys to locators. The storage engine is single-threaded
// per request (the server serializes calls with its own lock), so a
// plain mutex-guarded map is enough — no need for the lock-free
// structure a multi-writer design would want.
type Directory struct {
	mu      sync.Mutex
	entries map[string]Locator
}

// New returns an empty key directory.
func New() *Directory {
	return &Directory{entries: make(map[string]Locator)}
}

// Get returns the locator for key, if present.
func (d *Directory) Get(key string) (Locator, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc, ok := d.entries[key]
	return loc, ok
}

// Put inserts or replaces key's locator, returning the previous locator
// if one existed.
func (d *Directory) Put(key string, loc Locator) (previous Locator, hadPrevious bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, hadPrevious = d.entries[key]
	d.entries[key] = loc
	return previous, hadPrevious
}

// Delete removes key's locator, returning it if one existed.
func (d *Directory) Delete(key string) (previous Locator, hadPrevious bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, hadPrevious = d.entries[key]
	if hadPrevious {
		delete(d.entries, key)
	}
	return previous, hadPrevious
}

// Len reports the number of keys currently mapped.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Range calls fn once per entry in an unspecified order. fn must not
// call back into the Directory — Range holds the directory's lock for
// its duration, matching the engine's single-threaded access pattern
// during compaction.
func (d *Directory) Range(fn func(key string, loc Locator)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.entries {
		fn(k, v)
	}
}

// Set replaces the locator for key in place, used by compaction to
// rewrite offsets after copying a record's bytes into a new generation.
func (d *Directory) Set(key string, loc Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = loc
}
