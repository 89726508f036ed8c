package logfamily

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenEmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	family, sealed, next, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(sealed) != 0 {
		t.Errorf("sealed = %v, want empty", sealed)
	}
	if next != 1 {
		t.Errorf("next = %d, want 1", next)
	}
	if family == nil {
		t.Fatal("Open() returned nil family")
	}
}

func TestOpenRecognizesExistingGenerations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.log", "2.log", "not-a-log.txt", "03.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}

	_, sealed, next, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(sealed) != 2 || sealed[0] != 1 || sealed[1] != 2 {
		t.Errorf("sealed = %v, want [1 2] (03.log has a leading zero and must be ignored)", sealed)
	}
	if next != 3 {
		t.Errorf("next = %d, want 3", next)
	}
}

func TestCreateGenerationWriteFlushReadAt(t *testing.T) {
	dir := t.TempDir()
	family, _, next, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writer, err := family.CreateGeneration(next)
	if err != nil {
		t.Fatalf("CreateGeneration() error = %v", err)
	}
	defer writer.Close()

	pos := writer.Position()
	if pos != 0 {
		t.Errorf("Position() before any write = %d, want 0", pos)
	}

	n, err := writer.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write() = (%d, %v), want (5, nil)", n, err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if writer.Position() != 5 {
		t.Errorf("Position() after flush = %d, want 5", writer.Position())
	}

	reader, err := family.OpenReader(next)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer reader.Close()

	data, err := reader.ReadAt(0, 5)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadAt() = %q, want %q", data, "hello")
	}
}

func TestStreamReadsFromOffset(t *testing.T) {
	dir := t.TempDir()
	family, _, next, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writer, err := family.CreateGeneration(next)
	if err != nil {
		t.Fatalf("CreateGeneration() error = %v", err)
	}
	if _, err := writer.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reader, err := family.OpenReader(next)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer reader.Close()

	stream, err := reader.Stream(2)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	rest, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(rest) != "cdef" {
		t.Errorf("Stream(2) read = %q, want %q", rest, "cdef")
	}
}

func TestRetireRemovesFile(t *testing.T) {
	dir := t.TempDir()
	family, _, next, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writer, err := family.CreateGeneration(next)
	if err != nil {
		t.Fatalf("CreateGeneration() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := family.Retire(next); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "1.log")); !os.IsNotExist(err) {
		t.Errorf("Stat() after Retire() error = %v, want IsNotExist", err)
	}
}
