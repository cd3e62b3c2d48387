package query

import "github.com/omesh/omesh/pkg/tokenize"

// maxTermBytes bounds a single query term's normalised byte length,
// matching the index's own token cap (spec §4.A).
const maxTermBytes = 256

// Parse tokenizes text and fills ctx's term array in order, duplicates
// allowed, silently capped at [MaxQueryTerms] (spec §4.E.2). It sets
// ctx.Type to typ and returns the number of terms parsed, or ErrInvalid
// if text yields no terms at all (pure whitespace/punctuation).
func Parse(ctx *Context, text []byte, typ Type) (int, error) {
	ctx.reset()
	ctx.Type = typ

	tok := tokenize.New(text)
	buf := make([]byte, maxTermBytes)

	for len(ctx.Terms) < MaxQueryTerms {
		n, _ := tok.Next(buf)
		if n == 0 {
			break
		}

		term := make([]byte, n)
		copy(term, buf[:n])
		ctx.Terms = append(ctx.Terms, term)
	}

	if len(ctx.Terms) == 0 {
		return 0, ErrInvalid
	}

	return len(ctx.Terms), nil
}
