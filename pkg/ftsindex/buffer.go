package ftsindex


// Defaults from spec §3/§4.D.2.
const (
	defaultBucketCount  = 4096
	defaultMaxPositions = 64
	defaultBufferCap    = 65536
)

// chainEnd marks the end of a bucket chain (no more entries).
const chainEnd = -1

// bufEntry is one arena slot: (hash, term bytes, doc_id, term_frequency,
// positions), chained via next within its bucket (spec §3 Term buffer
// entry, §9 arena-of-fixed-size-records).
type bufEntry struct {
	hash      uint32
	term      []byte
	docID     uint64
	termFreq  uint32
	positions []uint32
	next      int32 // index into termBuffer.entries, or chainEnd
}

// termBuffer is the in-memory ingestion buffer: a fixed-size hash table
// of chains over an arena of entries addressed by integer index (spec
// §9). It holds at most one entry per (term, doc_id) pair per the
// resolution of the §9 Open Question on cross-document buffer
// behaviour: this implementation allocates a second chain entry at the
// bucket head when an existing entry belongs to a different doc_id,
// rather than silently dropping the occurrence.
type termBuffer struct {
	buckets []int32 // bucket index -> head entry index, or chainEnd
	entries []bufEntry

	maxPositions int
	capacity     int
}

func newTermBuffer(bucketCount, maxPositions, capacity int) *termBuffer {
	buckets := make([]int32, bucketCount)
	for i := range buckets {
		buckets[i] = chainEnd
	}

	return &termBuffer{
		buckets:      buckets,
		maxPositions: maxPositions,
		capacity:     capacity,
	}
}

func (b *termBuffer) bucketOf(hash uint32) int {
	return int(hash) % len(b.buckets)
}

// full reports whether the buffer has reached its configured entry cap
// (spec §4.D.2 step 6: flush and retry).
func (b *termBuffer) full() bool {
	return len(b.entries) >= b.capacity
}

// add records one token occurrence for (term, docID) at the given
// 0-based word position, per spec §4.D.2 steps 2-5.
func (b *termBuffer) add(term []byte, docID uint64, position int) {
	hash := hashTerm(term)
	bucket := b.bucketOf(hash)

	for idx := b.buckets[bucket]; idx != chainEnd; idx = b.entries[idx].next {
		e := &b.entries[idx]
		if e.hash != hash || len(e.term) != len(term) || string(e.term) != string(term) {
			continue
		}

		if e.docID != docID {
			// Different document sharing this chain: resolved Open
			// Question, allocate a second entry rather than dropping it.
			continue
		}

		e.termFreq++
		if len(e.positions) < b.maxPositions {
			e.positions = append(e.positions, uint32(position))
		}
		// else: position silently dropped past the cap (spec §3 invariant).

		return
	}

	// No existing entry for (term, docID): allocate and chain at head.
	termCopy := make([]byte, len(term))
	copy(termCopy, term)

	entry := bufEntry{
		hash:      hash,
		term:      termCopy,
		docID:     docID,
		termFreq:  1,
		positions: []uint32{uint32(position)},
		next:      b.buckets[bucket],
	}

	b.entries = append(b.entries, entry)
	b.buckets[bucket] = int32(len(b.entries) - 1)
}

// lookup finds the entry for (term) in docID-agnostic form: it returns
// the first chain entry matching term's hash+bytes, per spec §4.D.4
// step 1 (any matching buffer entry is reported as "found", doc_freq=1).
func (b *termBuffer) lookup(term []byte) (*bufEntry, bool) {
	hash := hashTerm(term)
	bucket := b.bucketOf(hash)

	for idx := b.buckets[bucket]; idx != chainEnd; idx = b.entries[idx].next {
		e := &b.entries[idx]
		if e.hash == hash && len(e.term) == len(term) && string(e.term) == string(term) {
			return e, true
		}
	}

	return nil, false
}

// allForTerm returns every buffer entry across all documents sharing the
// given term bytes (there may be more than one per the cross-document
// resolution above).
func (b *termBuffer) allForTerm(term []byte) []*bufEntry {
	hash := hashTerm(term)
	bucket := b.bucketOf(hash)

	var out []*bufEntry
	for idx := b.buckets[bucket]; idx != chainEnd; idx = b.entries[idx].next {
		e := &b.entries[idx]
		if e.hash == hash && len(e.term) == len(term) && string(e.term) == string(term) {
			out = append(out, e)
		}
	}

	return out
}

// reset clears the buffer after a flush (spec §4.D.3).
func (b *termBuffer) reset() {
	for i := range b.buckets {
		b.buckets[i] = chainEnd
	}
	b.entries = b.entries[:0]
}

// groupedByTerm groups all buffer entries by term bytes for the
// flush/merge pass (spec §4.D.3: "sorts by (hash, bytes)").
func (b *termBuffer) groupedByTerm() map[string][]*bufEntry {
	groups := make(map[string][]*bufEntry)

	for i := range b.entries {
		e := &b.entries[i]
		key := string(e.term)
		groups[key] = append(groups[key], e)
	}

	return groups
}
