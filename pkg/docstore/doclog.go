package docstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"
)

// docLog is the append-only document log (docs.dat). Reads go through an
// mmap; writes append via the fd and extend the mmap. Per spec §5, this
// component owns the log fd and its mmap exclusively.
type docLog struct {
	mu sync.Mutex

	file *os.File
	fd   int
	size int64 // current file size; also the append offset

	data []byte // mmap of [0, size); re-mmap'd on growth
}

func openDocLog(path string) (*docLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open doc log: %w: %v", ErrIO, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat doc log: %w: %v", ErrIO, err)
	}

	l := &docLog{file: f, fd: int(f.Fd()), size: fi.Size()}

	if l.size > 0 {
		if err := l.remap(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return l, nil
}

// remap replaces the mmap to cover [0, size). size must be > 0.
func (l *docLog) remap() error {
	if l.data != nil {
		if err := syscall.Munmap(l.data); err != nil {
			return fmt.Errorf("munmap doc log: %w: %v", ErrIO, err)
		}
		l.data = nil
	}

	data, err := syscall.Mmap(l.fd, 0, int(l.size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap doc log: %w: %v", ErrIO, err)
	}

	l.data = data

	return nil
}

// append writes a record's bytes at the current end of the log and
// returns the offset it was written at. The mmap is refreshed so
// subsequent reads see the new bytes.
func (l *docLog) append(record []byte) (offset int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset = l.size

	if _, err := l.file.WriteAt(record, offset); err != nil {
		return 0, fmt.Errorf("append doc log: %w: %v", ErrIO, err)
	}

	l.size += int64(len(record))

	if err := l.remap(); err != nil {
		return 0, err
	}

	return offset, nil
}

// readAt copies n bytes at offset out of the mmap into dst.
func (l *docLog) readAt(offset int64, n int, dst []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset < 0 || offset+int64(n) > int64(len(l.data)) {
		return fmt.Errorf("read doc log at %d len %d: %w", offset, n, ErrCorrupt)
	}

	copy(dst, l.data[offset:offset+int64(n)])

	return nil
}

// writeFlagsAt patches the flags field of the record header at offset,
// used by markDeleted (spec §4.C.1).
func (l *docLog) writeFlagsAt(offset int64, flags uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, flags)

	if _, err := l.file.WriteAt(buf, offset+offDocFlags); err != nil {
		return fmt.Errorf("mark deleted: %w: %v", ErrIO, err)
	}

	return l.remapLocked()
}

func (l *docLog) remapLocked() error {
	return l.remap()
}

func (l *docLog) sync() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync doc log: %w: %v", ErrIO, err)
	}
	return nil
}

func (l *docLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.data != nil {
		syscall.Munmap(l.data) //nolint:errcheck
		l.data = nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close doc log: %w: %v", ErrIO, err)
	}

	return nil
}
