// Package tokenize implements the word tokenizer used to build and query
// the inverted index: UTF-8 decode, word/non-word classification, and
// lowercase folding over a fixed set of Unicode ranges (spec §4.A).
//
// Tokenizer is a lazy, non-restartable, single-pass iterator: construct
// one with [New], pull tokens with [Tokenizer.Next] until it reports
// length 0, and stop using it. There is nothing to release explicitly;
// the iterator holds no resources beyond the input slice it was given.
package tokenize

import "unicode/utf8"

// Tokenizer scans a byte slice and emits normalised word tokens with their
// 1-based word position, per spec §4.A. The zero value is not usable; use
// [New].
type Tokenizer struct {
	src []byte
	pos int // byte offset of the next unscanned byte

	position int // 1-based count of tokens emitted so far
}

// New returns a [Tokenizer] over src. src is not copied; it must outlive
// the tokenizer and must not be mutated while in use.
func New(src []byte) *Tokenizer {
	return &Tokenizer{src: src}
}

// Position returns the 1-based position of the most recently emitted
// token, or 0 if [Tokenizer.Next] has not yet returned a non-empty token.
func (t *Tokenizer) Position() int {
	return t.position
}

// Next advances the tokenizer and writes the next normalised token into
// buf, returning the number of bytes written and the byte offset in the
// source where the token began.
//
// A token longer than len(buf) is silently truncated to cap; this is not
// an error. At end of input, Next returns (0, -1). Invalid UTF-8 bytes are
// skipped one at a time without producing a token.
func (t *Tokenizer) Next(buf []byte) (n int, bytePos int) {
	for t.pos < len(t.src) {
		r, size := utf8.DecodeRune(t.src[t.pos:])

		if r == utf8.RuneError && size <= 1 {
			// Invalid UTF-8 (or truly empty): skip one byte and retry.
			t.pos++
			continue
		}

		if !isWordRune(r) {
			t.pos += size
			continue
		}

		// Start of a token.
		start := t.pos
		n = 0

		for t.pos < len(t.src) {
			r, size = utf8.DecodeRune(t.src[t.pos:])
			if r == utf8.RuneError && size <= 1 {
				break
			}
			if !isWordRune(r) {
				break
			}

			lower := foldLower(r)

			if n < len(buf) {
				encoded := utf8.EncodeRune(scratch[:], lower)
				if n+encoded <= len(buf) {
					copy(buf[n:], scratch[:encoded])
					n += encoded
				} else {
					// Not enough room for this rune's encoding; token truncates
					// here and the rest of the word is consumed unwritten.
					buf = buf[:n]
				}
			}

			t.pos += size
		}

		t.position++

		return n, start
	}

	return 0, -1
}

// scratch is reused across EncodeRune calls; tokens are written directly
// into the caller's buffer so this never escapes a single call.
var scratch [utf8.UTFMax]byte

// isWordRune reports whether r is a word character per spec §4.A: ASCII
// letters and digits, Latin-1 Supplement / Latin Extended-A letters, or
// CJK Unified Ideographs, Hiragana, Katakana.
func isWordRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= 0x00C0 && r <= 0x024F:
		return true
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	case r >= 0x3040 && r <= 0x309F:
		return true
	case r >= 0x30A0 && r <= 0x30FF:
		return true
	default:
		return false
	}
}

// foldLower lowercases r per spec §4.A: ASCII A-Z, Latin-1 0xC0-0xDE
// except the multiplication sign 0xD7, and Latin Extended-A even/odd
// pairs (even code point is upper, odd is lower).
func foldLower(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z':
		return r + ('a' - 'A')
	case r >= 0x00C0 && r <= 0x00DE && r != 0x00D7:
		return r + 0x20
	case r >= 0x0100 && r <= 0x017F:
		if r%2 == 0 {
			return r + 1
		}
		return r
	default:
		return r
	}
}
