package query

import (
	"container/heap"
	"sort"

	"github.com/omesh/omesh/pkg/fixedpoint"
	"github.com/omesh/omesh/pkg/ftsindex"
)

// termStream is one parsed term's resolved posting set: a doc_id-keyed
// map standing in for the "cursor" the spec describes (spec §4.E.3).
// Building the full map up front and intersecting/unioning over it is
// equivalent to lock-step cursor advancement for the corpus sizes this
// core targets, and is far simpler to get right.
type termStream struct {
	postings map[uint64]postingInfo
	df       uint64
}

type postingInfo struct {
	termFreq  uint32
	positions []uint32
}

func resolveTermStream(idx *ftsindex.Index, term []byte) termStream {
	var ts termStream

	postings, err := idx.Postings(term)
	if err != nil {
		// NotFound: an empty cursor (spec §4.E.4).
		return ts
	}

	ts.postings = make(map[uint64]postingInfo, len(postings))
	for _, p := range postings {
		ts.postings[p.DocID] = postingInfo{termFreq: p.TermFreq, positions: p.Positions}
	}
	ts.df = uint64(len(postings))

	return ts
}

// Execute runs ctx's parsed query against idx and retains the top-K
// ranked results in ctx (spec §4.E.3). It returns the number of results
// retained.
func Execute(ctx *Context, idx *ftsindex.Index) (int, error) {
	if len(ctx.Terms) == 0 {
		return 0, ErrInvalid
	}

	ctx.TotalDocs = idx.TotalDocs()

	streams := make([]termStream, len(ctx.Terms))
	for i, term := range ctx.Terms {
		streams[i] = resolveTermStream(idx, term)
	}

	var candidates []Result

	switch ctx.Type {
	case AND:
		candidates = executeAnd(ctx, streams)
	case OR:
		candidates = executeOr(ctx, streams)
	case PHRASE:
		candidates = executePhrase(ctx, streams)
	default:
		return 0, ErrInvalid
	}

	ctx.results = topK(candidates, ctx.maxK)

	return len(ctx.results), nil
}

// score sums the TF-IDF contribution of every stream that matched doc,
// per spec §4.E.3's "Σᵢ tf·idf(termᵢ, doc)".
func score(streams []termStream, docID uint64, n uint64) (sum int64, firstPos uint32, matchCount uint32, hasPos bool) {
	firstPos = ^uint32(0)

	for _, s := range streams {
		if s.postings == nil {
			continue
		}
		p, ok := s.postings[docID]
		if !ok {
			continue
		}

		sum += fixedpoint.Score(uint64(p.termFreq), s.df, n)
		matchCount++

		if len(p.positions) > 0 && p.positions[0] < firstPos {
			firstPos = p.positions[0]
			hasPos = true
		}
	}

	if !hasPos {
		firstPos = 0
	}

	return sum, firstPos, matchCount, hasPos
}

// executeAnd intersects every stream's doc_id set (spec §4.E.3 AND). Any
// stream with a nil posting map (NotFound) makes the intersection empty,
// matching the spec's "short-circuits to zero results" rule.
func executeAnd(ctx *Context, streams []termStream) []Result {
	for _, s := range streams {
		if s.postings == nil {
			return nil
		}
	}

	// Intersect against the smallest stream to minimise work.
	smallest := 0
	for i, s := range streams {
		if len(s.postings) < len(streams[smallest].postings) {
			smallest = i
		}
	}

	var out []Result

	for docID := range streams[smallest].postings {
		all := true
		for i, s := range streams {
			if i == smallest {
				continue
			}
			if _, ok := s.postings[docID]; !ok {
				all = false
				break
			}
		}
		if !all {
			continue
		}

		sum, firstPos, matchCount, _ := score(streams, docID, ctx.TotalDocs)
		out = append(out, Result{DocID: docID, Score: sum, FirstMatchPosition: firstPos, MatchCount: matchCount})
	}

	return out
}

// executeOr unions every stream's doc_id set (spec §4.E.3 OR).
func executeOr(ctx *Context, streams []termStream) []Result {
	seen := make(map[uint64]bool)
	var out []Result

	for _, s := range streams {
		for docID := range s.postings {
			if seen[docID] {
				continue
			}
			seen[docID] = true

			sum, firstPos, matchCount, _ := score(streams, docID, ctx.TotalDocs)
			out = append(out, Result{DocID: docID, Score: sum, FirstMatchPosition: firstPos, MatchCount: matchCount})
		}
	}

	return out
}

// executePhrase runs AND, then verifies that every candidate document
// has a common anchor position p such that positions[i] contains p+i
// for every term i in query order (spec §4.E.3 PHRASE, §9 Open Question
// on phrase semantics: this checks true adjacency rather than
// delegating to AND's result set unchanged).
func executePhrase(ctx *Context, streams []termStream) []Result {
	candidates := executeAnd(ctx, streams)
	if len(candidates) == 0 {
		return nil
	}

	out := make([]Result, 0, len(candidates))

	for _, cand := range candidates {
		anchor, ok := findPhraseAnchor(streams, cand.DocID)
		if !ok {
			continue
		}

		cand.FirstMatchPosition = anchor
		out = append(out, cand)
	}

	return out
}

// findPhraseAnchor looks for a position p such that for every term index
// i, streams[i]'s positions for docID contains p+i. Candidates for p are
// drawn from the first term's positions in docID.
func findPhraseAnchor(streams []termStream, docID uint64) (uint32, bool) {
	first, ok := streams[0].postings[docID]
	if !ok {
		return 0, false
	}

	positionSets := make([]map[uint32]bool, len(streams))
	for i, s := range streams {
		p, ok := s.postings[docID]
		if !ok {
			return 0, false
		}
		set := make(map[uint32]bool, len(p.positions))
		for _, pos := range p.positions {
			set[pos] = true
		}
		positionSets[i] = set
	}

	for _, p := range first.positions {
		match := true
		for i := 1; i < len(streams); i++ {
			if !positionSets[i][p+uint32(i)] {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}

	return 0, false
}

// resultHeap is a min-heap by score (ties broken by higher doc_id first,
// so popping the minimum evicts the lowest-ranked candidate), used to
// retain only the top-K results without sorting the full candidate set
// (spec §4.E.1 bounded results buffer).
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// topK retains the K highest-scoring candidates, sorted descending by
// score with ties broken by lower doc_id (spec §4.E.3, §8 sortedness
// property).
func topK(candidates []Result, k int) []Result {
	if len(candidates) == 0 {
		return nil
	}

	h := make(resultHeap, 0, k)

	for _, c := range candidates {
		if h.Len() < k {
			heap.Push(&h, c)
			continue
		}
		if c.Score > h[0].Score || (c.Score == h[0].Score && c.DocID < h[0].DocID) {
			heap.Pop(&h)
			heap.Push(&h, c)
		}
	}

	out := make([]Result, h.Len())
	copy(out, h)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})

	return out
}
