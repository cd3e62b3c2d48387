package docstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

// WAL entry header (spec §6): magic(4)="WAL\0" | length(4) | seq(8) |
// op(4) | crc32(4). Total header size 24 bytes; payload follows.
const (
	walMagic      = "WAL\x00"
	walHeaderSize = 24
)

// WAL op tags (spec §6).
const (
	OpPut    uint32 = 1
	OpDelete uint32 = 2
	OpCommit uint32 = 3
)

// ReplayFunc is the caller-supplied callback invoked for each well-formed
// WAL entry during [WAL.Recover], in file order, stopping at (and not
// including) the first COMMIT marker.
type ReplayFunc func(op uint32, docID uint64, payload []byte) error

// WAL is the document store's write-ahead log (spec §4.C.3). It is not
// safe for concurrent use from multiple goroutines; the store serializes
// access per the single-writer model (spec §5).
type WAL struct {
	mu   sync.Mutex
	file *os.File
	seq  uint64
}

// OpenWAL opens or creates the WAL file at path. The sequence counter
// starts at 0 for a fresh file; callers that need to resume numbering
// across a restart should call [WAL.Recover] first, which advances the
// internal counter past the highest sequence number observed.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w: %v", ErrIO, err)
	}

	return &WAL{file: f}, nil
}

// Append writes a new WAL entry and returns its sequence number. The
// caller must record PUT/DELETE entries before the corresponding
// state-visible mutation, and close a batch with a COMMIT entry (spec
// §4.C.3, §5 ordering guarantee (a)).
func (w *WAL) Append(op uint32, docID uint64, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	seq := w.seq

	var body []byte

	switch op {
	case OpPut:
		body = payload // caller packs (doc_id, reserved_offset, payload_len, payload)
	case OpDelete:
		body = make([]byte, 8)
		binary.LittleEndian.PutUint64(body, docID)
	case OpCommit:
		body = nil
	default:
		return 0, fmt.Errorf("wal: unknown op %d: %w", op, ErrInvalid)
	}

	entry := make([]byte, walHeaderSize+len(body))
	copy(entry[0:4], walMagic)
	binary.LittleEndian.PutUint32(entry[4:8], uint32(len(entry)))
	binary.LittleEndian.PutUint64(entry[8:16], seq)
	binary.LittleEndian.PutUint32(entry[16:20], op)
	binary.LittleEndian.PutUint32(entry[20:24], crc32.ChecksumIEEE(body))
	copy(entry[walHeaderSize:], body)

	if _, err := w.file.Write(entry); err != nil {
		return 0, fmt.Errorf("wal append: %w: %v", ErrIO, err)
	}

	return seq, nil
}

// Sync fsyncs the WAL file. Per spec §5, this is the one operation with
// unbounded latency; callers should treat it as slow.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w: %v", ErrIO, err)
	}
	return nil
}

// Checkpoint appends a COMMIT entry and fsyncs. After a successful
// checkpoint the caller may call [WAL.Truncate] to reset the log while
// retaining the sequence counter.
func (w *WAL) Checkpoint() error {
	if _, err := w.Append(OpCommit, 0, nil); err != nil {
		return err
	}
	return w.Sync()
}

// Truncate resets the WAL file to zero length while preserving the
// monotonic sequence counter (spec §4.C.3).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal truncate: %w: %v", ErrIO, err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("wal truncate seek: %w: %v", ErrIO, err)
	}

	return nil
}

// Seq returns the most recently assigned sequence number.
func (w *WAL) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal close: %w: %v", ErrIO, err)
	}
	return nil
}

// Recover scans the WAL from the beginning, dispatching each well-formed
// entry to fn, stopping at the first of: end of file, a malformed entry
// (left in the file; a later [WAL.Truncate] discards it), or a COMMIT marker (everything
// before it was already installed, so replay stops there).
//
// Recover also advances the internal sequence counter past the highest
// sequence number it observed, so subsequent [WAL.Append] calls continue
// the monotonic series across a restart.
func (w *WAL) Recover(fn ReplayFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.file.Name())
	if err != nil {
		return fmt.Errorf("wal recover read: %w: %v", ErrIO, err)
	}

	pos := 0
	maxSeq := uint64(0)

	for pos+walHeaderSize <= len(data) {
		hdr := data[pos : pos+walHeaderSize]

		if string(hdr[0:4]) != walMagic {
			break // malformed trailing data; stop here
		}

		length := binary.LittleEndian.Uint32(hdr[4:8])
		seq := binary.LittleEndian.Uint64(hdr[8:16])
		op := binary.LittleEndian.Uint32(hdr[16:20])
		crc := binary.LittleEndian.Uint32(hdr[20:24])

		if length < uint32(walHeaderSize) || pos+int(length) > len(data) {
			break // truncated entry
		}

		payload := data[pos+walHeaderSize : pos+int(length)]

		if crc32.ChecksumIEEE(payload) != crc {
			break // corrupt entry; stop, do not replay past it
		}

		if seq > maxSeq {
			maxSeq = seq
		}

		if op == OpCommit {
			pos += int(length)
			break
		}

		var docID uint64
		if len(payload) >= 8 {
			docID = binary.LittleEndian.Uint64(payload[0:8])
		}

		if err := fn(op, docID, payload); err != nil {
			return fmt.Errorf("wal replay: %w", err)
		}

		pos += int(length)
	}

	if maxSeq > w.seq {
		w.seq = maxSeq
	}

	return nil
}

// EncodePutPayload packs the PUT payload format from spec §3/§6:
// (doc_id, reserved_offset, payload_length, payload).
func EncodePutPayload(docID uint64, reservedOffset int64, payload []byte) []byte {
	buf := make([]byte, 8+8+4+len(payload))
	binary.LittleEndian.PutUint64(buf[0:8], docID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(reservedOffset))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	copy(buf[20:], payload)
	return buf
}

// DecodePutPayload is the inverse of [EncodePutPayload].
func DecodePutPayload(buf []byte) (docID uint64, reservedOffset int64, payload []byte, ok bool) {
	if len(buf) < 20 {
		return 0, 0, nil, false
	}

	docID = binary.LittleEndian.Uint64(buf[0:8])
	reservedOffset = int64(binary.LittleEndian.Uint64(buf[8:16]))
	n := binary.LittleEndian.Uint32(buf[16:20])

	if uint32(len(buf)-20) < n {
		return 0, 0, nil, false
	}

	payload = buf[20 : 20+n]

	return docID, reservedOffset, payload, true
}
