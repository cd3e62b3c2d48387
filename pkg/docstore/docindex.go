package docstore

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/natefinch/atomic"
)

// defaultIndexBufferCap is the default in-memory append-buffer capacity
// before a merge is triggered (spec §4.C).
const defaultIndexBufferCap = 1024

// docIndex is the sorted doc-id -> offset index (docs.idx), mmap'd
// read-only with an in-memory append buffer merged on demand (spec
// §4.C.2). Per spec §5, this component owns the index fd, mmap, and
// buffer exclusively.
type docIndex struct {
	mu sync.RWMutex

	path string
	file *os.File
	fd   int
	data []byte // mmap of the on-disk sorted entries, after the header

	bufferCap int
	buffer    []docIndexEntry // unsorted, newest-wins on duplicate doc_id
}

func openDocIndex(path string) (*docIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open doc index: %w: %v", ErrIO, err)
	}

	idx := &docIndex{
		path:      path,
		file:      f,
		fd:        int(f.Fd()),
		bufferCap: defaultIndexBufferCap,
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat doc index: %w: %v", ErrIO, err)
	}

	if fi.Size() == 0 {
		if err := idx.writeEmptyHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return idx, nil
	}

	if err := idx.remap(fi.Size()); err != nil {
		f.Close()
		return nil, err
	}

	if _, _, ok := decodeDocIndexHeader(idx.data); !ok {
		idx.close() //nolint:errcheck
		return nil, fmt.Errorf("doc index header: %w", ErrCorrupt)
	}

	return idx, nil
}

func (idx *docIndex) writeEmptyHeader() error {
	hdr := make([]byte, docIndexHeaderSize)
	encodeDocIndexHeader(hdr, 0)

	if _, err := idx.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("write doc index header: %w: %v", ErrIO, err)
	}

	return idx.remap(docIndexHeaderSize)
}

func (idx *docIndex) remap(size int64) error {
	if idx.data != nil {
		syscall.Munmap(idx.data) //nolint:errcheck
		idx.data = nil
	}

	if size == 0 {
		return nil
	}

	data, err := syscall.Mmap(idx.fd, 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap doc index: %w: %v", ErrIO, err)
	}

	idx.data = data

	return nil
}

// diskCount returns the number of sorted entries currently on disk.
func (idx *docIndex) diskCount() uint64 {
	if len(idx.data) < docIndexHeaderSize {
		return 0
	}
	_, count, _ := decodeDocIndexHeader(idx.data)
	return count
}

// diskEntry returns the i-th sorted entry on disk.
func (idx *docIndex) diskEntry(i uint64) docIndexEntry {
	off := docIndexHeaderSize + int(i)*docIndexEntrySize
	return decodeDocIndexEntry(idx.data[off : off+docIndexEntrySize])
}

// diskLookup binary-searches the sorted on-disk entries for docID.
func (idx *docIndex) diskLookup(docID uint64) (docIndexEntry, bool) {
	count := idx.diskCount()

	i := sort.Search(int(count), func(i int) bool {
		return idx.diskEntry(uint64(i)).DocID >= docID
	})

	if uint64(i) < count {
		e := idx.diskEntry(uint64(i))
		if e.DocID == docID {
			return e, true
		}
	}

	return docIndexEntry{}, false
}

// lookup resolves docID to its file offset, buffer-first then disk (spec
// §4.C.1). Returns ErrNotFound if missing or tombstoned.
func (idx *docIndex) lookup(docID uint64) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	// Buffer is newest-wins; scan from the end so the latest mutation for
	// a doc_id is found first.
	for i := len(idx.buffer) - 1; i >= 0; i-- {
		if idx.buffer[i].DocID == docID {
			if idx.buffer[i].Offset == tombstoneOffset {
				return 0, ErrNotFound
			}
			return idx.buffer[i].Offset, nil
		}
	}

	e, ok := idx.diskLookup(docID)
	if !ok || e.Offset == tombstoneOffset {
		return 0, ErrNotFound
	}

	return e.Offset, nil
}

// insert appends (docID, offset) to the buffer, merging when full.
func (idx *docIndex) insert(docID uint64, offset int64) error {
	idx.mu.Lock()
	idx.buffer = append(idx.buffer, docIndexEntry{DocID: docID, Offset: offset})
	full := len(idx.buffer) >= idx.bufferCap
	idx.mu.Unlock()

	if full {
		return idx.merge()
	}

	return nil
}

// remove inserts a tombstone for docID.
func (idx *docIndex) remove(docID uint64) error {
	return idx.insert(docID, tombstoneOffset)
}

// count returns the number of live entries visible across buffer+disk.
// It is an approximation used only for diagnostics; exact counts require
// a full merge.
func (idx *docIndex) count() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[uint64]bool, len(idx.buffer))
	live := uint64(0)

	for _, e := range idx.buffer {
		seen[e.DocID] = true
		if e.Offset != tombstoneOffset {
			live++
		}
	}

	for i := uint64(0); i < idx.diskCount(); i++ {
		e := idx.diskEntry(i)
		if seen[e.DocID] {
			continue
		}
		if e.Offset != tombstoneOffset {
			live++
		}
	}

	return live
}

// merge sorts the in-memory buffer and two-pointer merges it with the
// sorted on-disk entries, writing the result through a brand-new file
// that is renamed into place (spec §9: index merge atomicity). On
// matching doc_id the buffer entry wins; entries whose winning offset is
// a tombstone are dropped from the merged file.
func (idx *docIndex) merge() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.buffer) == 0 {
		return nil
	}

	bufSorted := make([]docIndexEntry, len(idx.buffer))
	copy(bufSorted, idx.buffer)
	sort.SliceStable(bufSorted, func(i, j int) bool { return bufSorted[i].DocID < bufSorted[j].DocID })

	// Buffer entries with the same doc_id: the latest insertion wins. The
	// stable sort above preserves original relative order on ties, so a
	// pass keeping the last occurrence per run yields "newest wins".
	bufSorted = dedupKeepLast(bufSorted)

	diskCount := idx.diskCount()

	merged := make([]docIndexEntry, 0, uint64(len(bufSorted))+diskCount)

	var bi, di uint64
	for bi < uint64(len(bufSorted)) && di < diskCount {
		b := bufSorted[bi]
		d := idx.diskEntry(di)

		switch {
		case b.DocID < d.DocID:
			merged = append(merged, b)
			bi++
		case b.DocID > d.DocID:
			merged = append(merged, d)
			di++
		default: // equal: buffer wins
			merged = append(merged, b)
			bi++
			di++
		}
	}
	for ; bi < uint64(len(bufSorted)); bi++ {
		merged = append(merged, bufSorted[bi])
	}
	for ; di < diskCount; di++ {
		merged = append(merged, idx.diskEntry(di))
	}

	// Drop tombstones from the merged file; they only need to suppress a
	// stale disk entry during this merge, not persist forever.
	live := merged[:0:0]
	for _, e := range merged {
		if e.Offset != tombstoneOffset {
			live = append(live, e)
		}
	}

	var out bytes.Buffer
	hdr := make([]byte, docIndexHeaderSize)
	encodeDocIndexHeader(hdr, uint64(len(live)))
	out.Write(hdr)

	entryBuf := make([]byte, docIndexEntrySize)
	for _, e := range live {
		encodeDocIndexEntry(entryBuf, e)
		out.Write(entryBuf)
	}

	if err := atomic.WriteFile(idx.path, bytes.NewReader(out.Bytes())); err != nil {
		return fmt.Errorf("merge doc index: %w: %v", ErrIO, err)
	}

	// Re-open the fd against the replaced file and remap.
	if err := idx.reopen(); err != nil {
		return err
	}

	idx.buffer = idx.buffer[:0]

	return nil
}

func (idx *docIndex) reopen() error {
	if idx.data != nil {
		syscall.Munmap(idx.data) //nolint:errcheck
		idx.data = nil
	}

	if err := idx.file.Close(); err != nil {
		return fmt.Errorf("close doc index for reopen: %w: %v", ErrIO, err)
	}

	f, err := os.OpenFile(idx.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen doc index: %w: %v", ErrIO, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat reopened doc index: %w: %v", ErrIO, err)
	}

	idx.file = f
	idx.fd = int(f.Fd())

	return idx.remap(fi.Size())
}

func dedupKeepLast(sorted []docIndexEntry) []docIndexEntry {
	out := sorted[:0:0]

	for i := 0; i < len(sorted); i++ {
		j := i
		for j+1 < len(sorted) && sorted[j+1].DocID == sorted[i].DocID {
			j++
		}
		out = append(out, sorted[j]) // last in the run
		i = j
	}

	return out
}

func (idx *docIndex) sync() error {
	return idx.file.Sync()
}

func (idx *docIndex) close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.data != nil {
		syscall.Munmap(idx.data) //nolint:errcheck
		idx.data = nil
	}

	return idx.file.Close()
}
