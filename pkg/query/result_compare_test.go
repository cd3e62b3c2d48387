package query

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// docIDs extracts the sorted set of doc_ids from a Context's results, for
// comparisons where score/ranking order isn't the property under test.
func docIDs(t *testing.T, ctx *Context) []uint64 {
	t.Helper()

	ids := make([]uint64, ctx.Count())
	for i := range ids {
		r, err := ctx.GetResult(i)
		require.NoError(t, err)
		ids[i] = r.DocID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// AND and OR over a single term must visit the identical doc_id set (spec
// §8), compared structurally rather than position-by-position.
func TestAndOrSingleTermDocSetsAreEqual(t *testing.T) {
	idx := newTestIndex(t)

	docs := map[uint64]string{
		1: "The quick brown fox",
		2: "Hello world test",
		3: "Assembly is quick",
		4: "nothing relevant here",
	}
	for id, doc := range docs {
		_, err := idx.Add(id, []byte(doc))
		require.NoError(t, err)
	}

	andCtx := runQuery(t, idx, "quick", AND)
	orCtx := runQuery(t, idx, "quick", OR)

	if diff := cmp.Diff(docIDs(t, andCtx), docIDs(t, orCtx)); diff != "" {
		t.Fatalf("AND/OR doc_id sets differ (-AND +OR):\n%s", diff)
	}
}

// a PHRASE query's doc_id set must be a subset of the equivalent AND
// query's doc_id set, since phrase matching requires adjacency on top of
// co-occurrence (spec §4.E.2).
func TestPhraseDocSetIsSubsetOfAnd(t *testing.T) {
	idx := newTestIndex(t)

	docs := map[uint64]string{
		1: "quick brown fox",
		2: "brown quick fox",
		3: "quick fox only",
	}
	for id, doc := range docs {
		_, err := idx.Add(id, []byte(doc))
		require.NoError(t, err)
	}

	phraseCtx := runQuery(t, idx, "quick brown", PHRASE)
	andCtx := runQuery(t, idx, "quick brown", AND)

	andSet := map[uint64]bool{}
	for _, id := range docIDs(t, andCtx) {
		andSet[id] = true
	}

	for _, id := range docIDs(t, phraseCtx) {
		require.Truef(t, andSet[id], "doc %d matched PHRASE but not AND", id)
	}

	want := []uint64{1}
	require.Empty(t, cmp.Diff(want, docIDs(t, phraseCtx)), "PHRASE(quick brown) doc set")
}
