package ftsindex

import (
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return idx
}

func TestAddAndLookupInBuffer(t *testing.T) {
	idx := newTestIndex(t)

	n, err := idx.Add(1, []byte("The quick brown fox"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n != 4 {
		t.Fatalf("tokens indexed = %d, want 4", n)
	}

	if _, _, err := idx.Lookup([]byte("quick")); err != nil {
		t.Fatalf("Lookup(quick): %v", err)
	}

	if _, _, err := idx.Lookup([]byte("xyzzy")); err != ErrNotFound {
		t.Fatalf("Lookup(xyzzy) err = %v, want ErrNotFound", err)
	}
}

func TestPostingsMergesAcrossDocuments(t *testing.T) {
	idx := newTestIndex(t)

	if _, err := idx.Add(1, []byte("The quick brown fox")); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Add(3, []byte("Assembly is quick")); err != nil {
		t.Fatal(err)
	}

	postings, err := idx.Postings([]byte("quick"))
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}

	if len(postings) != 2 {
		t.Fatalf("len(postings) = %d, want 2: %+v", len(postings), postings)
	}
	if postings[0].DocID != 1 || postings[1].DocID != 3 {
		t.Fatalf("postings not doc_id ascending: %+v", postings)
	}
}

func TestFlushThenLookupHitsDisk(t *testing.T) {
	idx := newTestIndex(t)

	if _, err := idx.Add(1, []byte("hello world")); err != nil {
		t.Fatal(err)
	}

	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	offset, docFreq, err := idx.Lookup([]byte("hello"))
	if err != nil {
		t.Fatalf("Lookup after flush: %v", err)
	}
	if offset < 0 {
		t.Fatalf("expected a disk offset after flush, got sentinel %d", offset)
	}
	if docFreq != 1 {
		t.Fatalf("docFreq = %d, want 1", docFreq)
	}
}

func TestSaveCloseLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	idx, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i, doc := range []string{
		"hello there world",
		"another hello document",
		"peace and hello again",
	} {
		if _, err := idx.Add(uint64(i+1), []byte(doc)); err != nil {
			t.Fatal(err)
		}
	}

	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Init(dir)
	if err != nil {
		t.Fatalf("Init (reopen): %v", err)
	}
	defer reopened.Close()

	for _, term := range []string{"hello", "world", "peace"} {
		if _, _, err := reopened.Lookup([]byte(term)); err != nil {
			t.Fatalf("Lookup(%q) after reload: %v", term, err)
		}
	}
}

func TestCrossDocumentBufferAllocatesSecondEntry(t *testing.T) {
	idx := newTestIndex(t)

	if _, err := idx.Add(1, []byte("shared")); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Add(2, []byte("shared")); err != nil {
		t.Fatal(err)
	}

	postings, err := idx.Postings([]byte("shared"))
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected both documents retained per the Open Question resolution, got %+v", postings)
	}
}
