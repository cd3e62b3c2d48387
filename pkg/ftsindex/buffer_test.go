package ftsindex

import "testing"

func TestTermBufferAddAccumulatesTermFreqAndPositions(t *testing.T) {
	b := newTermBuffer(defaultBucketCount, defaultMaxPositions, defaultBufferCap)

	b.add([]byte("fox"), 1, 0)
	b.add([]byte("fox"), 1, 5)
	b.add([]byte("fox"), 1, 9)

	e, ok := b.lookup([]byte("fox"))
	if !ok {
		t.Fatal("lookup(fox) not found")
	}
	if e.termFreq != 3 {
		t.Fatalf("termFreq = %d, want 3", e.termFreq)
	}
	if len(e.positions) != 3 || e.positions[0] != 0 || e.positions[1] != 5 || e.positions[2] != 9 {
		t.Fatalf("positions = %v, want [0 5 9]", e.positions)
	}
}

func TestTermBufferPositionsCapAtMaxPositions(t *testing.T) {
	b := newTermBuffer(defaultBucketCount, 2, defaultBufferCap)

	for i := 0; i < 5; i++ {
		b.add([]byte("fox"), 1, i)
	}

	e, ok := b.lookup([]byte("fox"))
	if !ok {
		t.Fatal("lookup(fox) not found")
	}
	if e.termFreq != 5 {
		t.Fatalf("termFreq = %d, want 5 (counts beyond the positions cap)", e.termFreq)
	}
	if len(e.positions) != 2 {
		t.Fatalf("len(positions) = %d, want 2 (capped)", len(e.positions))
	}
}

func TestTermBufferDifferentDocIDsAllocateSeparateEntries(t *testing.T) {
	b := newTermBuffer(defaultBucketCount, defaultMaxPositions, defaultBufferCap)

	b.add([]byte("fox"), 1, 0)
	b.add([]byte("fox"), 2, 0)

	all := b.allForTerm([]byte("fox"))
	if len(all) != 2 {
		t.Fatalf("len(allForTerm) = %d, want 2", len(all))
	}

	seen := map[uint64]bool{}
	for _, e := range all {
		seen[e.docID] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected entries for doc_id 1 and 2, got %+v", all)
	}
}

func TestTermBufferFullReportsCapacity(t *testing.T) {
	b := newTermBuffer(8, defaultMaxPositions, 2)

	if b.full() {
		t.Fatal("empty buffer reports full")
	}

	b.add([]byte("a"), 1, 0)
	b.add([]byte("b"), 1, 0)

	if !b.full() {
		t.Fatal("buffer at capacity should report full")
	}
}

func TestTermBufferResetClearsChains(t *testing.T) {
	b := newTermBuffer(defaultBucketCount, defaultMaxPositions, defaultBufferCap)

	b.add([]byte("fox"), 1, 0)
	b.reset()

	if _, ok := b.lookup([]byte("fox")); ok {
		t.Fatal("lookup found entry after reset")
	}
	if len(b.entries) != 0 {
		t.Fatalf("len(entries) = %d after reset, want 0", len(b.entries))
	}
}

func TestTermBufferGroupedByTerm(t *testing.T) {
	b := newTermBuffer(defaultBucketCount, defaultMaxPositions, defaultBufferCap)

	b.add([]byte("fox"), 1, 0)
	b.add([]byte("fox"), 2, 0)
	b.add([]byte("dog"), 1, 1)

	groups := b.groupedByTerm()
	if len(groups["fox"]) != 2 {
		t.Fatalf("len(groups[fox]) = %d, want 2", len(groups["fox"]))
	}
	if len(groups["dog"]) != 1 {
		t.Fatalf("len(groups[dog]) = %d, want 1", len(groups["dog"]))
	}
}
