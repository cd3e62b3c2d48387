package docstore

import (
	"path/filepath"
	"testing"
)

// WAL round-trip: append; sync; reopen; recover; apply produces the same
// state as the original in-memory mutation (spec §8).
func TestWALAppendSyncReopenRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}

	payload := EncodePutPayload(1, 0, []byte("a"))
	if _, err := w.Append(OpPut, 1, payload); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL (reopen): %v", err)
	}
	defer reopened.Close()

	var replayed []uint64
	err = reopened.Recover(func(op uint32, docID uint64, payload []byte) error {
		replayed = append(replayed, docID)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if len(replayed) != 1 || replayed[0] != 1 {
		t.Fatalf("replayed = %v, want [1]", replayed)
	}
}

// scenario 5 from spec §8: PUT(1), PUT(2), crash with no COMMIT yields
// exactly those two entries on recovery; a later COMMIT+truncate yields
// nothing.
func TestWALRecoveryStopsAtCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(OpPut, 1, EncodePutPayload(1, 0, []byte("a"))); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(OpPut, 2, EncodePutPayload(2, 0, []byte("b"))); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}

	var ops []uint32
	err = w.Recover(func(op uint32, docID uint64, payload []byte) error {
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover (pre-commit): %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("recovered %d entries, want 2", len(ops))
	}

	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	ops = nil
	err = w.Recover(func(op uint32, docID uint64, payload []byte) error {
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover (post-truncate): %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("recovered %d entries after checkpoint+truncate, want 0", len(ops))
	}
}

func TestWALSeqPreservedAcrossTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if _, err := w.Append(OpPut, uint64(i), EncodePutPayload(uint64(i), 0, nil)); err != nil {
			t.Fatal(err)
		}
	}

	seqBefore := w.Seq()

	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if _, err := w.Append(OpPut, 99, EncodePutPayload(99, 0, nil)); err != nil {
		t.Fatal(err)
	}

	if w.Seq() != seqBefore+1 {
		t.Fatalf("Seq() after truncate+append = %d, want %d", w.Seq(), seqBefore+1)
	}
}

func TestPutEncodeDecodeRoundTrip(t *testing.T) {
	payload := EncodePutPayload(42, 1024, []byte("payload bytes"))

	docID, offset, content, ok := DecodePutPayload(payload)
	if !ok {
		t.Fatal("DecodePutPayload returned ok=false")
	}
	if docID != 42 {
		t.Fatalf("docID = %d, want 42", docID)
	}
	if offset != 1024 {
		t.Fatalf("offset = %d, want 1024", offset)
	}
	if string(content) != "payload bytes" {
		t.Fatalf("content = %q, want %q", content, "payload bytes")
	}
}
