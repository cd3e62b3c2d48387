package ftsindex

import (
	"encoding/binary"
	"hash/crc32"
)

// File magics and versions (spec §4.D.1, §6). checksums across this
// package use the Castagnoli polynomial consistently, matching the
// teacher's pkg/mddb/wal.go walCRC32C table.
const (
	termsMagic    = "FTSt"
	postingsMagic = "FTSp"
	metaMagic     = "FTSm"

	fileVersion = 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// hashTerm is the term hash primitive used by the buffer hash table and
// the on-disk dictionary (spec §4.D.2): CRC32 IEEE of the normalised
// term bytes, the same primitive the document store uses for its own
// CRC32 (spec §4.C.4), reused here for consistency across the codebase.
func hashTerm(term []byte) uint32 {
	return crc32.ChecksumIEEE(term)
}

func leUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Term dictionary header: magic(4) | version(4) | term_count(8) |
// total_postings(8) | checksum(4) | reserved(4) = 32 bytes.
const termsHeaderSize = 32

type termsHeader struct {
	Version       uint32
	TermCount     uint64
	TotalPostings uint64
	Checksum      uint32
}

func encodeTermsHeader(h termsHeader) []byte {
	buf := make([]byte, termsHeaderSize)
	copy(buf[0:4], termsMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.TermCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalPostings)
	binary.LittleEndian.PutUint32(buf[24:28], h.Checksum)
	// buf[28:32] reserved, zero.
	return buf
}

func decodeTermsHeader(buf []byte) (termsHeader, bool) {
	var h termsHeader
	if len(buf) < termsHeaderSize || string(buf[0:4]) != termsMagic {
		return h, false
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.TermCount = binary.LittleEndian.Uint64(buf[8:16])
	h.TotalPostings = binary.LittleEndian.Uint64(buf[16:24])
	h.Checksum = binary.LittleEndian.Uint32(buf[24:28])
	return h, true
}

// termEntryFixedSize is the fixed portion of a term dictionary entry
// before the variable-length term bytes and its padding:
// hash(4) | len(2) | flags(2) | doc_freq(4) | posting_offset(8) = 20 bytes.
const termEntryFixedSize = 20

type termEntry struct {
	Hash          uint32
	Len           uint16
	Flags         uint16
	DocFreq       uint32
	PostingOffset uint64
	Term          []byte
}

// paddedEntrySize returns the total on-disk size of a term entry,
// including its term bytes padded up to the next 8-byte boundary.
func paddedEntrySize(termLen int) int {
	n := termEntryFixedSize + termLen
	if rem := n % 8; rem != 0 {
		n += 8 - rem
	}
	return n
}

func encodeTermEntry(buf []byte, e termEntry) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Hash)
	binary.LittleEndian.PutUint16(buf[4:6], e.Len)
	binary.LittleEndian.PutUint16(buf[6:8], e.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], e.DocFreq)
	binary.LittleEndian.PutUint64(buf[12:20], e.PostingOffset)
	copy(buf[20:20+len(e.Term)], e.Term)
	// remaining padding bytes are left zero by the caller's make([]byte, n).
}

func decodeTermEntry(buf []byte) (termEntry, int) {
	var e termEntry
	e.Hash = binary.LittleEndian.Uint32(buf[0:4])
	e.Len = binary.LittleEndian.Uint16(buf[4:6])
	e.Flags = binary.LittleEndian.Uint16(buf[6:8])
	e.DocFreq = binary.LittleEndian.Uint32(buf[8:12])
	e.PostingOffset = binary.LittleEndian.Uint64(buf[12:20])
	e.Term = buf[20 : 20+int(e.Len)]

	return e, paddedEntrySize(int(e.Len))
}

// Postings file header: magic(4) | version(4) | count(8) | checksum(4) |
// reserved(4) = 24 bytes.
const postingsHeaderSize = 24

type postingsHeader struct {
	Version  uint32
	Count    uint64
	Checksum uint32
}

func encodePostingsHeader(h postingsHeader) []byte {
	buf := make([]byte, postingsHeaderSize)
	copy(buf[0:4], postingsMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Count)
	binary.LittleEndian.PutUint32(buf[16:20], h.Checksum)
	return buf
}

func decodePostingsHeader(buf []byte) (postingsHeader, bool) {
	var h postingsHeader
	if len(buf) < postingsHeaderSize || string(buf[0:4]) != postingsMagic {
		return h, false
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Count = binary.LittleEndian.Uint64(buf[8:16])
	h.Checksum = binary.LittleEndian.Uint32(buf[16:20])
	return h, true
}

// docPosting is one (doc_id, term_freq, positions) record inside a
// posting list (spec §3, §6).
type docPosting struct {
	DocID     uint64
	TermFreq  uint32
	Positions []uint32
}

func encodedPostingSize(p docPosting) int {
	return 8 + 4 + 4 + 4*len(p.Positions)
}

func encodeDocPosting(buf []byte, p docPosting) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.DocID)
	binary.LittleEndian.PutUint32(buf[8:12], p.TermFreq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(p.Positions)))

	off := 16
	for _, pos := range p.Positions {
		binary.LittleEndian.PutUint32(buf[off:off+4], pos)
		off += 4
	}

	return off
}

func decodeDocPosting(buf []byte) (docPosting, int) {
	var p docPosting
	p.DocID = binary.LittleEndian.Uint64(buf[0:8])
	p.TermFreq = binary.LittleEndian.Uint32(buf[8:12])
	count := binary.LittleEndian.Uint32(buf[12:16])

	p.Positions = make([]uint32, count)
	off := 16
	for i := range p.Positions {
		p.Positions[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}

	return p, off
}

// Meta file: magic(4) | version(4) | total_docs(8) | total_terms(8) |
// total_tokens(8) | avg_doc_len(8, 16.16 fixed) | last_doc_id(8) |
// timestamp(8) | checksum(4) | reserved(4) = 64 bytes.
const metaFileSize = 64

// Meta carries the corpus-wide counters persisted in meta.fts.
type Meta struct {
	TotalDocs   uint64
	TotalTerms  uint64
	TotalTokens uint64
	AvgDocLen16 uint64 // 16.16 fixed point
	LastDocID   uint64
	Timestamp   uint64
}

func encodeMeta(m Meta) []byte {
	buf := make([]byte, metaFileSize)
	copy(buf[0:4], metaMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	binary.LittleEndian.PutUint64(buf[8:16], m.TotalDocs)
	binary.LittleEndian.PutUint64(buf[16:24], m.TotalTerms)
	binary.LittleEndian.PutUint64(buf[24:32], m.TotalTokens)
	binary.LittleEndian.PutUint64(buf[32:40], m.AvgDocLen16)
	binary.LittleEndian.PutUint64(buf[40:48], m.LastDocID)
	binary.LittleEndian.PutUint64(buf[48:56], m.Timestamp)

	cs := checksum(buf[0:56])
	binary.LittleEndian.PutUint32(buf[56:60], cs)

	return buf
}

func decodeMeta(buf []byte) (Meta, bool) {
	var m Meta
	if len(buf) < metaFileSize || string(buf[0:4]) != metaMagic {
		return m, false
	}

	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != fileVersion {
		return m, false
	}

	want := binary.LittleEndian.Uint32(buf[56:60])
	if checksum(buf[0:56]) != want {
		return m, false
	}

	m.TotalDocs = binary.LittleEndian.Uint64(buf[8:16])
	m.TotalTerms = binary.LittleEndian.Uint64(buf[16:24])
	m.TotalTokens = binary.LittleEndian.Uint64(buf[24:32])
	m.AvgDocLen16 = binary.LittleEndian.Uint64(buf[32:40])
	m.LastDocID = binary.LittleEndian.Uint64(buf[40:48])
	m.Timestamp = binary.LittleEndian.Uint64(buf[48:56])

	return m, true
}
