package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// round-trip: put(x); close(); reopen; get(off) returns x (spec §8).
func TestPutCloseReopenGet(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := []byte("hello durable world")

	id, off, err := s.Put(want)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Init(dir)
	if err != nil {
		t.Fatalf("Init (reopen): %v", err)
	}
	defer reopened.Close()

	gotOff, err := reopened.IndexLookup(id)
	if err != nil {
		t.Fatalf("IndexLookup: %v", err)
	}
	if gotOff != off {
		t.Fatalf("offset after reopen = %d, want %d", gotOff, off)
	}

	buf := make([]byte, len(want))
	n, err := reopened.Get(gotOff, buf)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Fatalf("Get = %q, want %q", buf[:n], want)
	}
}

// scenario 6 from spec §8: corrupting one byte of a record's payload
// makes that record Corrupt while others remain retrievable.
func TestCRCDetectsCorruption(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Close()

	_, off1, err := s.Put([]byte("first document"))
	if err != nil {
		t.Fatal(err)
	}
	_, off2, err := s.Put([]byte("second document"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Sync(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(docLogPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	raw[int(off1)+docHeaderSize] ^= 0xFF
	if err := os.WriteFile(docLogPath(dir), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Init(dir)
	if err != nil {
		t.Fatalf("Init (reopen): %v", err)
	}
	defer reopened.Close()

	buf := make([]byte, 64)
	if _, err := reopened.Get(off1, buf); err != ErrCorrupt {
		t.Fatalf("Get(off1) err = %v, want ErrCorrupt", err)
	}

	n, err := reopened.Get(off2, buf)
	if err != nil {
		t.Fatalf("Get(off2) after corrupting off1: %v", err)
	}
	if string(buf[:n]) != "second document" {
		t.Fatalf("Get(off2) = %q, want %q", buf[:n], "second document")
	}
}

func TestMarkDeletedHidesRecord(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Close()

	_, off, err := s.Put([]byte("to be deleted"))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkDeleted(off); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	buf := make([]byte, 32)
	if _, err := s.Get(off, buf); err != ErrNotFound {
		t.Fatalf("Get after MarkDeleted err = %v, want ErrNotFound", err)
	}
}

func TestTooLargePayloadRejected(t *testing.T) {
	dir := t.TempDir()

	s, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer s.Close()

	_, _, err = s.Put(make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put(too large) err = %v, want ErrTooLarge", err)
	}
}

func docLogPath(dir string) string { return filepath.Join(dir, "docs.dat") }
