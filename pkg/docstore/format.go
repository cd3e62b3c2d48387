package docstore

import (
	"encoding/binary"
	"hash/crc32"
)

// Doc log record header (spec §6):
//
//	magic(4)="DOCD" | length(4) | doc_id(8) | timestamp(8) | flags(4) |
//	payload_len(4) | crc32(4)
//
// That sums to 36 bytes; padded to the next 8-byte boundary gives a fixed
// 40-byte header, matching spec §3's "implementation may align to 8"
// note. The padding bytes are always zero and are not covered by the CRC.
const (
	docMagic      = "DOCD"
	docHeaderSize = 40

	flagDeleted uint32 = 1 << 0
)

const (
	offDocMagic      = 0
	offDocLength     = 4
	offDocID         = 8
	offDocTimestamp  = 16
	offDocFlags      = 24
	offDocPayloadLen = 28
	offDocCRC32      = 32
	// bytes 36..40 reserved/padding.
)

// docHeader is the decoded form of a doc log record header.
type docHeader struct {
	Length     uint32
	DocID      uint64
	Timestamp  uint64
	Flags      uint32
	PayloadLen uint32
	CRC32      uint32
}

func (h docHeader) deleted() bool {
	return h.Flags&flagDeleted != 0
}

func encodeDocHeader(buf []byte, h docHeader) {
	copy(buf[offDocMagic:], docMagic)
	binary.LittleEndian.PutUint32(buf[offDocLength:], h.Length)
	binary.LittleEndian.PutUint64(buf[offDocID:], h.DocID)
	binary.LittleEndian.PutUint64(buf[offDocTimestamp:], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[offDocFlags:], h.Flags)
	binary.LittleEndian.PutUint32(buf[offDocPayloadLen:], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[offDocCRC32:], h.CRC32)
}

func decodeDocHeader(buf []byte) (docHeader, bool) {
	var h docHeader

	if len(buf) < docHeaderSize || string(buf[offDocMagic:offDocMagic+4]) != docMagic {
		return h, false
	}

	h.Length = binary.LittleEndian.Uint32(buf[offDocLength:])
	h.DocID = binary.LittleEndian.Uint64(buf[offDocID:])
	h.Timestamp = binary.LittleEndian.Uint64(buf[offDocTimestamp:])
	h.Flags = binary.LittleEndian.Uint32(buf[offDocFlags:])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[offDocPayloadLen:])
	h.CRC32 = binary.LittleEndian.Uint32(buf[offDocCRC32:])

	return h, true
}

// docIndexMagic identifies the on-disk doc-id -> offset index (spec §6).
const docIndexMagic = "DIDX"
const docIndexVersion = 1
const docIndexHeaderSize = 16 // magic(4) + version(4) + count(8)
const docIndexEntrySize = 16  // doc_id(8) + offset(8)

// tombstoneOffset is the sentinel file_offset value marking a deleted
// doc-index entry (spec §3).
const tombstoneOffset int64 = -1

type docIndexEntry struct {
	DocID  uint64
	Offset int64
}

func encodeDocIndexHeader(buf []byte, count uint64) {
	copy(buf[0:4], docIndexMagic)
	binary.LittleEndian.PutUint32(buf[4:8], docIndexVersion)
	binary.LittleEndian.PutUint64(buf[8:16], count)
}

func decodeDocIndexHeader(buf []byte) (version uint32, count uint64, ok bool) {
	if len(buf) < docIndexHeaderSize || string(buf[0:4]) != docIndexMagic {
		return 0, 0, false
	}
	version = binary.LittleEndian.Uint32(buf[4:8])
	count = binary.LittleEndian.Uint64(buf[8:16])
	return version, count, true
}

func encodeDocIndexEntry(buf []byte, e docIndexEntry) {
	binary.LittleEndian.PutUint64(buf[0:8], e.DocID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.Offset))
}

func decodeDocIndexEntry(buf []byte) docIndexEntry {
	return docIndexEntry{
		DocID:  binary.LittleEndian.Uint64(buf[0:8]),
		Offset: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// crcIEEE is the CRC32 primitive used for doc records (spec §4.C.4): a
// single polynomial used consistently across every record a build writes
// and verifies. This build uses the software IEEE table.
func crcIEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
