// Package docstore implements the document store: an append-only log of
// variable-length records with CRC-verified reads, a sorted doc-id to
// offset index, and a write-ahead log that makes mutations
// crash-recoverable (spec §4.C).
package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// MaxPayloadSize is the maximum document payload size (spec §4.C.1).
const MaxPayloadSize = 16 << 20 // 16 MiB

// Store wires the doc log, doc index, and WAL together behind the single
// -writer API of spec §4.C.1. A Store is not safe for concurrent
// mutation from multiple goroutines (spec §5); concurrent reads are
// safe.
type Store struct {
	mu sync.Mutex

	log   *docLog
	index *docIndex
	wal   *WAL

	nextID atomic.Uint64
}

// Init opens (creating if necessary) the three artefacts under dir:
// docs.dat, docs.idx, wal.log, then replays any uncommitted WAL entries
// left by a prior crash (spec §4.C.3 Recovery).
func Init(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store dir: %w: %v", ErrIO, err)
	}

	log, err := openDocLog(filepath.Join(dir, "docs.dat"))
	if err != nil {
		return nil, err
	}

	index, err := openDocIndex(filepath.Join(dir, "docs.idx"))
	if err != nil {
		log.close() //nolint:errcheck
		return nil, err
	}

	wal, err := OpenWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		log.close()   //nolint:errcheck
		index.close() //nolint:errcheck
		return nil, err
	}

	s := &Store{log: log, index: index, wal: wal}

	if err := s.recover(); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}

	maxID := s.scanMaxDocID()
	s.nextID.Store(maxID)

	return s, nil
}

// scanMaxDocID walks the on-disk doc index to seed the doc_id allocator
// after a restart. Buffer entries are included since recover() replays
// into the index before this runs.
func (s *Store) scanMaxDocID() uint64 {
	s.index.mu.RLock()
	defer s.index.mu.RUnlock()

	var max uint64

	for _, e := range s.index.buffer {
		if e.DocID > max {
			max = e.DocID
		}
	}

	for i := uint64(0); i < s.index.diskCount(); i++ {
		if e := s.index.diskEntry(i); e.DocID > max {
			max = e.DocID
		}
	}

	return max
}

// recover replays any WAL entries left uncommitted by a prior crash,
// reapplying PUT/DELETE into the doc log and doc index exactly as a live
// mutation would, then truncates the WAL (spec §4.C.3).
func (s *Store) recover() error {
	err := s.wal.Recover(func(op uint32, docID uint64, payload []byte) error {
		switch op {
		case OpPut:
			_, _, content, ok := DecodePutPayload(payload)
			if !ok {
				return fmt.Errorf("recover put payload: %w", ErrCorrupt)
			}

			offset, err := s.writeDocRecord(docID, content)
			if err != nil {
				return err
			}

			return s.index.insert(docID, offset)

		case OpDelete:
			return s.index.remove(docID)

		default:
			return fmt.Errorf("recover: unexpected op %d: %w", op, ErrBadSequence)
		}
	})
	if err != nil {
		return err
	}

	return s.wal.Truncate()
}

// writeDocRecord appends a DOCD record for (docID, content) to the log
// and returns its offset, without touching the WAL or doc index.
func (s *Store) writeDocRecord(docID uint64, content []byte) (int64, error) {
	hdr := docHeader{
		Length:     uint32(docHeaderSize + len(content)),
		DocID:      docID,
		Timestamp:  uint64(time.Now().Unix()),
		PayloadLen: uint32(len(content)),
		CRC32:      crcIEEE(content),
	}

	record := make([]byte, docHeaderSize+len(content))
	encodeDocHeader(record, hdr)
	copy(record[docHeaderSize:], content)

	return s.log.append(record)
}

// Put assigns the next doc_id, writes a WAL PUT entry, appends the
// record to the log, and inserts the (doc_id, offset) pair into the doc
// index, in that order per spec §5 ordering guarantee (a).
func (s *Store) Put(content []byte) (docID uint64, offset int64, err error) {
	if len(content) > MaxPayloadSize {
		return 0, 0, fmt.Errorf("payload %d bytes: %w", len(content), ErrTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docID = s.nextID.Add(1)

	// reserved_offset is unknown until the append happens; record 0 and
	// rely on WAL replay recomputing the real offset from the log itself.
	putPayload := EncodePutPayload(docID, 0, content)

	if _, err := s.wal.Append(OpPut, docID, putPayload); err != nil {
		return 0, 0, err
	}
	if err := s.wal.Sync(); err != nil {
		return 0, 0, err
	}

	offset, err = s.writeDocRecord(docID, content)
	if err != nil {
		return 0, 0, err
	}

	if err := s.index.insert(docID, offset); err != nil {
		return 0, 0, err
	}

	if err := s.wal.Checkpoint(); err != nil {
		return 0, 0, err
	}
	if err := s.wal.Truncate(); err != nil {
		return 0, 0, err
	}

	return docID, offset, nil
}

// Get copies the payload at offset into buf, verifying magic and CRC.
// Returns ErrNotFound if the record is tombstoned, ErrCorrupt on a bad
// magic/CRC, and ErrOverflow if buf is too small.
func (s *Store) Get(offset int64, buf []byte) (int, error) {
	hdr, err := s.GetHeader(offset)
	if err != nil {
		return 0, err
	}

	if hdr.deleted() {
		return 0, ErrNotFound
	}

	if int(hdr.PayloadLen) > len(buf) {
		return 0, ErrOverflow
	}

	if err := s.log.readAt(offset+docHeaderSize, int(hdr.PayloadLen), buf); err != nil {
		return 0, err
	}

	payload := buf[:hdr.PayloadLen]
	if crcIEEE(payload) != hdr.CRC32 {
		return 0, ErrCorrupt
	}

	return int(hdr.PayloadLen), nil
}

// GetHeader returns the decoded header fields at offset without copying
// the payload.
func (s *Store) GetHeader(offset int64) (docHeader, error) {
	raw := make([]byte, docHeaderSize)
	if err := s.log.readAt(offset, docHeaderSize, raw); err != nil {
		return docHeader{}, err
	}

	hdr, ok := decodeDocHeader(raw)
	if !ok {
		return docHeader{}, ErrCorrupt
	}

	return hdr, nil
}

// MarkDeleted sets the DELETED bit in the record header at offset. Space
// is not reclaimed; that requires compaction (out of scope, spec §3).
func (s *Store) MarkDeleted(offset int64) error {
	hdr, err := s.GetHeader(offset)
	if err != nil {
		return err
	}

	return s.log.writeFlagsAt(offset, hdr.Flags|flagDeleted)
}

// IndexLookup resolves a doc_id to its on-log offset.
func (s *Store) IndexLookup(docID uint64) (int64, error) {
	return s.index.lookup(docID)
}

// IndexInsert records a (doc_id, offset) pair directly, without going
// through the WAL. Exposed for callers (e.g. index recovery) that manage
// their own durability.
func (s *Store) IndexInsert(docID uint64, offset int64) error {
	return s.index.insert(docID, offset)
}

// IndexRemove inserts a tombstone for doc_id.
func (s *Store) IndexRemove(docID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.wal.Append(OpDelete, docID, nil); err != nil {
		return err
	}
	if err := s.wal.Sync(); err != nil {
		return err
	}

	if err := s.index.remove(docID); err != nil {
		return err
	}

	if err := s.wal.Checkpoint(); err != nil {
		return err
	}

	return s.wal.Truncate()
}

// IndexCount returns the approximate number of live entries.
func (s *Store) IndexCount() uint64 {
	return s.index.count()
}

// IndexMerge forces a merge of the doc index buffer into the sorted
// on-disk file, even if the buffer is below capacity.
func (s *Store) IndexMerge() error {
	return s.index.merge()
}

// Sync fsyncs the doc log, doc index, and WAL.
func (s *Store) Sync() error {
	if err := s.log.sync(); err != nil {
		return err
	}
	if err := s.index.sync(); err != nil {
		return err
	}
	return s.wal.Sync()
}

// Close flushes and releases all resources.
func (s *Store) Close() error {
	var firstErr error

	if err := s.index.merge(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.log.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.index.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
