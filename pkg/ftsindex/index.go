// Package ftsindex implements the inverted index: a term dictionary with
// positional posting lists, an in-memory ingestion buffer, and
// persist/load through rename-into-place files (spec §4.D).
package ftsindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/omesh/omesh/pkg/tokenize"
)

// maxTokenBytes bounds a single token's normalised byte length; longer
// tokens truncate silently per spec §4.A.
const maxTokenBytes = 256

// Index owns the term/posting files and the in-memory term buffer/hash
// table exclusively (spec §3 Ownership).
type Index struct {
	mu sync.RWMutex

	dir string

	termsFile    *os.File
	postingsFile *os.File

	termsData    []byte // mmap of terms.fts
	postingsData []byte // mmap of postings.fts

	// termOffsets holds the byte offset of each term-dictionary entry
	// within termsData, in the same (hash, bytes) sorted order as the
	// entries themselves (spec §9: parallel fixed-size offset table for
	// true O(log N) binary search instead of re-scanning from the base
	// on every step).
	termOffsets []int

	buf *termBuffer

	meta Meta
}

// Init opens (creating if necessary) terms.fts, postings.fts, and
// meta.fts under dir (spec §4.D.1).
func Init(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir index dir: %w: %v", ErrIO, err)
	}

	idx := &Index{
		dir: dir,
		buf: newTermBuffer(defaultBucketCount, defaultMaxPositions, defaultBufferCap),
	}

	if err := idx.openOrCreateFiles(); err != nil {
		return nil, err
	}

	if err := idx.Load(); err != nil {
		idx.Close() //nolint:errcheck
		return nil, err
	}

	return idx, nil
}

func (idx *Index) termsPath() string    { return filepath.Join(idx.dir, "terms.fts") }
func (idx *Index) postingsPath() string { return filepath.Join(idx.dir, "postings.fts") }
func (idx *Index) metaPath() string     { return filepath.Join(idx.dir, "meta.fts") }

func (idx *Index) openOrCreateFiles() error {
	tf, err := os.OpenFile(idx.termsPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open terms file: %w: %v", ErrIO, err)
	}
	idx.termsFile = tf

	if fi, _ := tf.Stat(); fi.Size() == 0 {
		hdr := encodeTermsHeader(termsHeader{Version: fileVersion})
		if _, err := tf.WriteAt(hdr, 0); err != nil {
			return fmt.Errorf("init terms file: %w: %v", ErrIO, err)
		}
	}

	pf, err := os.OpenFile(idx.postingsPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open postings file: %w: %v", ErrIO, err)
	}
	idx.postingsFile = pf

	if fi, _ := pf.Stat(); fi.Size() == 0 {
		hdr := encodePostingsHeader(postingsHeader{Version: fileVersion})
		if _, err := pf.WriteAt(hdr, 0); err != nil {
			return fmt.Errorf("init postings file: %w: %v", ErrIO, err)
		}
	}

	if _, err := os.Stat(idx.metaPath()); os.IsNotExist(err) {
		if err := os.WriteFile(idx.metaPath(), encodeMeta(Meta{}), 0o644); err != nil {
			return fmt.Errorf("init meta file: %w: %v", ErrIO, err)
		}
	}

	return nil
}

// Add tokenizes content and records each token's occurrence in the
// in-memory buffer, flushing and retrying when the buffer fills (spec
// §4.D.2). It returns the number of tokens indexed.
func (idx *Index) Add(docID uint64, content []byte) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tok := tokenize.New(content)
	tokenBuf := make([]byte, maxTokenBytes)

	tokens := 0

	for {
		n, _ := tok.Next(tokenBuf)
		if n == 0 {
			break
		}

		if idx.buf.full() {
			if err := idx.flushLocked(); err != nil {
				return tokens, err
			}
		}

		// tok.Position() is 1-based externally; store 0-based (spec §4.A).
		idx.buf.add(tokenBuf[:n], docID, tok.Position()-1)
		tokens++
	}

	idx.meta.TotalDocs++
	idx.meta.TotalTokens += uint64(tokens)
	if idx.meta.TotalDocs > 0 {
		idx.meta.AvgDocLen16 = (idx.meta.TotalTokens << 16) / idx.meta.TotalDocs
	}
	if docID > idx.meta.LastDocID {
		idx.meta.LastDocID = docID
	}

	return tokens, nil
}

// Lookup resolves term to its posting location: if present in the
// in-memory buffer, returns a negative sentinel offset and doc_freq=1;
// otherwise binary-searches the on-disk dictionary (spec §4.D.4).
func (idx *Index) Lookup(term []byte) (offset int64, docFreq uint32, err error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if _, ok := idx.buf.lookup(term); ok {
		return -1, 1, nil
	}

	e, ok := idx.diskLookup(term)
	if !ok {
		return 0, 0, ErrNotFound
	}

	return int64(e.PostingOffset), e.DocFreq, nil
}

// Postings returns the complete, merged posting list for term: on-disk
// entries plus any in-memory buffer entries, buffer winning on doc_id
// conflicts (spec §5 ordering guarantee (b): the buffer⊕disk view is
// linearisable without requiring an explicit flush first).
func (idx *Index) Postings(term []byte) ([]docPosting, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	disk, _ := idx.diskPostings(term)

	byDoc := make(map[uint64]docPosting, len(disk))
	for _, p := range disk {
		byDoc[p.DocID] = p
	}

	for _, e := range idx.buf.allForTerm(term) {
		byDoc[e.docID] = docPosting{DocID: e.docID, TermFreq: e.termFreq, Positions: append([]uint32(nil), e.positions...)}
	}

	if len(byDoc) == 0 {
		return nil, ErrNotFound
	}

	out := make([]docPosting, 0, len(byDoc))
	for _, p := range byDoc {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })

	return out, nil
}

// TotalDocs returns the snapshot of total_docs from meta (spec §4.E.1
// needs this for IDF at query_init time).
func (idx *Index) TotalDocs() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.TotalDocs
}

// AvgDocLen16 returns the corpus average document length, 16.16 fixed.
func (idx *Index) AvgDocLen16() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.AvgDocLen16
}

// Flush merges the in-memory buffer into the on-disk term/posting files
// (spec §4.D.3).
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushLocked()
}

// Sync fsyncs the term and posting files.
func (idx *Index) Sync() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.termsFile.Sync(); err != nil {
		return fmt.Errorf("sync terms file: %w: %v", ErrIO, err)
	}
	if err := idx.postingsFile.Sync(); err != nil {
		return fmt.Errorf("sync postings file: %w: %v", ErrIO, err)
	}

	return nil
}

// Save flushes the buffer through to disk and fsyncs both files (spec
// §4.D.5).
func (idx *Index) Save() error {
	if err := idx.Flush(); err != nil {
		return err
	}
	return idx.Sync()
}

// Load validates file magics, mmaps terms.fts/postings.fts, and
// reconstructs in-memory counts and the term offset table (spec §4.D.5).
func (idx *Index) Load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.remapLocked(); err != nil {
		return err
	}

	rawMeta, err := os.ReadFile(idx.metaPath())
	if err != nil {
		return fmt.Errorf("read meta file: %w: %v", ErrIO, err)
	}

	if len(rawMeta) > 0 {
		m, ok := decodeMeta(rawMeta)
		if !ok {
			return fmt.Errorf("meta file: %w", ErrCorrupt)
		}
		idx.meta = m
	}

	return idx.buildOffsetTableLocked()
}

func (idx *Index) remapLocked() error {
	if idx.termsData != nil {
		syscall.Munmap(idx.termsData) //nolint:errcheck
		idx.termsData = nil
	}
	if idx.postingsData != nil {
		syscall.Munmap(idx.postingsData) //nolint:errcheck
		idx.postingsData = nil
	}

	tfi, err := idx.termsFile.Stat()
	if err != nil {
		return fmt.Errorf("stat terms file: %w: %v", ErrIO, err)
	}
	if tfi.Size() > 0 {
		data, err := syscall.Mmap(int(idx.termsFile.Fd()), 0, int(tfi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap terms file: %w: %v", ErrIO, err)
		}
		idx.termsData = data

		if _, ok := decodeTermsHeader(idx.termsData); !ok {
			return fmt.Errorf("terms file header: %w", ErrCorrupt)
		}
	}

	pfi, err := idx.postingsFile.Stat()
	if err != nil {
		return fmt.Errorf("stat postings file: %w: %v", ErrIO, err)
	}
	if pfi.Size() > 0 {
		data, err := syscall.Mmap(int(idx.postingsFile.Fd()), 0, int(pfi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap postings file: %w: %v", ErrIO, err)
		}
		idx.postingsData = data

		if _, ok := decodePostingsHeader(idx.postingsData); !ok {
			return fmt.Errorf("postings file header: %w", ErrCorrupt)
		}
	}

	return nil
}

// buildOffsetTableLocked scans the term dictionary once, recording the
// byte offset of each entry in on-disk order (already sorted by
// (hash, bytes) by construction), per spec §9.
func (idx *Index) buildOffsetTableLocked() error {
	idx.termOffsets = idx.termOffsets[:0]

	if len(idx.termsData) < termsHeaderSize {
		return nil
	}

	hdr, ok := decodeTermsHeader(idx.termsData)
	if !ok {
		return fmt.Errorf("terms header: %w", ErrCorrupt)
	}

	off := termsHeaderSize
	for i := uint64(0); i < hdr.TermCount; i++ {
		if off+termEntryFixedSize > len(idx.termsData) {
			return fmt.Errorf("terms file truncated: %w", ErrCorrupt)
		}

		idx.termOffsets = append(idx.termOffsets, off)

		_, size := decodeTermEntry(idx.termsData[off:])
		off += size
	}

	return nil
}

// diskLookup resolves term via the offset table with true binary search
// on hash, then scans both neighbours while the hash is unchanged to
// find the exact (hash, bytes) match (spec §9 Open Question 2).
func (idx *Index) diskLookup(term []byte) (termEntry, bool) {
	if len(idx.termOffsets) == 0 {
		return termEntry{}, false
	}

	hash := hashTerm(term)

	entryAt := func(i int) termEntry {
		e, _ := decodeTermEntry(idx.termsData[idx.termOffsets[i]:])
		return e
	}

	i := sort.Search(len(idx.termOffsets), func(i int) bool {
		return entryAt(i).Hash >= hash
	})

	// Scan left and right from i while the hash matches.
	for j := i; j < len(idx.termOffsets); j++ {
		e := entryAt(j)
		if e.Hash != hash {
			break
		}
		if string(e.Term) == string(term) {
			return e, true
		}
	}
	for j := i - 1; j >= 0; j-- {
		e := entryAt(j)
		if e.Hash != hash {
			break
		}
		if string(e.Term) == string(term) {
			return e, true
		}
	}

	return termEntry{}, false
}

// diskPostings decodes the full posting list for a disk-resident term.
func (idx *Index) diskPostings(term []byte) ([]docPosting, bool) {
	e, ok := idx.diskLookup(term)
	if !ok {
		return nil, false
	}

	off := int(e.PostingOffset)
	if off+4 > len(idx.postingsData) {
		return nil, false
	}

	docFreq := leUint32(idx.postingsData[off : off+4])
	off += 4

	out := make([]docPosting, 0, docFreq)
	for i := uint32(0); i < docFreq; i++ {
		p, size := decodeDocPosting(idx.postingsData[off:])
		out = append(out, p)
		off += size
	}

	return out, true
}

// Close releases the mmaps and closes both files.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var firstErr error

	if idx.termsData != nil {
		syscall.Munmap(idx.termsData) //nolint:errcheck
		idx.termsData = nil
	}
	if idx.postingsData != nil {
		syscall.Munmap(idx.postingsData) //nolint:errcheck
		idx.postingsData = nil
	}

	if idx.termsFile != nil {
		if err := idx.termsFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if idx.postingsFile != nil {
		if err := idx.postingsFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (idx *Index) touchTimestamp() {
	idx.meta.Timestamp = uint64(time.Now().Unix())
}

func unmapQuiet(data []byte) {
	syscall.Munmap(data) //nolint:errcheck
}
