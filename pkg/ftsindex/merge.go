package ftsindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/natefinch/atomic"
)

// flushLocked groups buffer entries by term, sorts by (hash, bytes),
// and merges with the existing on-disk term dictionary, writing new
// terms.fts/postings.fts files that are renamed into place (spec §4.D.3,
// §9 index merge atomicity). Callers must hold idx.mu for writing.
func (idx *Index) flushLocked() error {
	if len(idx.buf.entries) == 0 {
		return nil
	}

	groups := idx.buf.groupedByTerm()

	type mergedTerm struct {
		hash     uint32
		term     []byte
		postings []docPosting
	}

	merged := make([]mergedTerm, 0, len(groups))

	for key, entries := range groups {
		term := []byte(key)

		existing, _ := idx.diskPostings(term)

		byDoc := make(map[uint64]docPosting, len(existing)+len(entries))
		for _, p := range existing {
			byDoc[p.DocID] = p
		}
		for _, e := range entries {
			byDoc[e.docID] = docPosting{DocID: e.docID, TermFreq: e.termFreq, Positions: e.positions}
		}

		postings := make([]docPosting, 0, len(byDoc))
		for _, p := range byDoc {
			postings = append(postings, p)
		}
		sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })

		merged = append(merged, mergedTerm{hash: hashTerm(term), term: term, postings: postings})
	}

	// Merge in terms that exist on disk but weren't touched this flush,
	// so the new dictionary is complete, not just the delta.
	existingTerms := idx.allDiskTermsExcept(groups)
	for _, et := range existingTerms {
		postings, _ := idx.diskPostings(et.Term)
		merged = append(merged, mergedTerm{hash: et.Hash, term: et.Term, postings: postings})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].hash != merged[j].hash {
			return merged[i].hash < merged[j].hash
		}
		return string(merged[i].term) < string(merged[j].term)
	})

	var postingsBuf bytes.Buffer
	postingsBuf.Write(make([]byte, postingsHeaderSize)) // placeholder, filled below

	var termsBuf bytes.Buffer
	termsBuf.Write(make([]byte, termsHeaderSize)) // placeholder

	var totalPostings uint64

	for _, mt := range merged {
		postingOffset := postingsBuf.Len()

		docFreqBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(docFreqBuf, uint32(len(mt.postings)))
		postingsBuf.Write(docFreqBuf)

		for _, p := range mt.postings {
			buf := make([]byte, encodedPostingSize(p))
			encodeDocPosting(buf, p)
			postingsBuf.Write(buf)
		}

		entry := termEntry{
			Hash:          mt.hash,
			Len:           uint16(len(mt.term)),
			DocFreq:       uint32(len(mt.postings)),
			PostingOffset: uint64(postingOffset),
			Term:          mt.term,
		}

		entryBuf := make([]byte, paddedEntrySize(len(mt.term)))
		encodeTermEntry(entryBuf, entry)
		termsBuf.Write(entryBuf)

		totalPostings += uint64(len(mt.postings))
	}

	// Patch the headers now that counts are known.
	termsOut := termsBuf.Bytes()
	copy(termsOut[0:termsHeaderSize], encodeTermsHeader(termsHeader{
		Version:       fileVersion,
		TermCount:     uint64(len(merged)),
		TotalPostings: totalPostings,
		Checksum:      checksum(termsOut[termsHeaderSize:]),
	}))

	postingsOut := postingsBuf.Bytes()
	copy(postingsOut[0:postingsHeaderSize], encodePostingsHeader(postingsHeader{
		Version:  fileVersion,
		Count:    uint64(len(merged)),
		Checksum: checksum(postingsOut[postingsHeaderSize:]),
	}))

	if err := atomic.WriteFile(idx.termsPath(), bytes.NewReader(termsOut)); err != nil {
		return fmt.Errorf("flush terms file: %w: %v", ErrIO, err)
	}
	if err := atomic.WriteFile(idx.postingsPath(), bytes.NewReader(postingsOut)); err != nil {
		return fmt.Errorf("flush postings file: %w: %v", ErrIO, err)
	}

	idx.touchTimestamp()
	if err := atomic.WriteFile(idx.metaPath(), bytes.NewReader(encodeMeta(idx.meta))); err != nil {
		return fmt.Errorf("flush meta file: %w: %v", ErrIO, err)
	}

	if err := idx.reopenFilesLocked(); err != nil {
		return err
	}

	if err := idx.remapLocked(); err != nil {
		return err
	}

	if err := idx.buildOffsetTableLocked(); err != nil {
		return err
	}

	idx.meta.TotalTerms = uint64(len(merged))

	idx.buf.reset()

	return nil
}

// allDiskTermsExcept returns the full term entry for every on-disk term
// whose bytes are not a key in skip, used by flushLocked to carry
// forward untouched terms into the new merged file.
func (idx *Index) allDiskTermsExcept(skip map[string][]*bufEntry) []termEntry {
	if len(idx.termOffsets) == 0 {
		return nil
	}

	out := make([]termEntry, 0, len(idx.termOffsets))

	for _, off := range idx.termOffsets {
		e, _ := decodeTermEntry(idx.termsData[off:])
		if _, touched := skip[string(e.Term)]; touched {
			continue
		}

		termCopy := make([]byte, len(e.Term))
		copy(termCopy, e.Term)
		e.Term = termCopy

		out = append(out, e)
	}

	return out
}

func (idx *Index) reopenFilesLocked() error {
	if idx.termsData != nil {
		unmapQuiet(idx.termsData)
		idx.termsData = nil
	}
	if idx.postingsData != nil {
		unmapQuiet(idx.postingsData)
		idx.postingsData = nil
	}

	if err := idx.termsFile.Close(); err != nil {
		return fmt.Errorf("close terms file for reopen: %w: %v", ErrIO, err)
	}
	if err := idx.postingsFile.Close(); err != nil {
		return fmt.Errorf("close postings file for reopen: %w: %v", ErrIO, err)
	}

	tf, err := os.OpenFile(idx.termsPath(), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen terms file: %w: %v", ErrIO, err)
	}
	idx.termsFile = tf

	pf, err := os.OpenFile(idx.postingsPath(), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen postings file: %w: %v", ErrIO, err)
	}
	idx.postingsFile = pf

	return nil
}
