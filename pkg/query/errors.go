// Package query implements the query engine: a small parser and an
// executor for AND / OR / PHRASE queries over the buffer-and-disk
// posting streams exposed by [github.com/omesh/omesh/pkg/ftsindex],
// producing a ranked, bounded result set (spec §4.E).
package query

import "errors"

// Error taxonomy mirrors the core's kind set (spec §7); the query
// engine only ever surfaces Invalid and OOM itself. A failed index
// lookup for a term is not returned; it yields an empty cursor.
var (
	ErrInvalid = errors.New("query: invalid argument")
	ErrOOM     = errors.New("query: allocation failed")
)
