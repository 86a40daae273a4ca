// Package cellfeed turns a published spreadsheet's cell feed into an ordered
// sequence of field-keyed records.
//
// The feed is cell-granular: each entry carries a location label ("B7") and
// the cell's text content, in no guaranteed order. This package is the
// data-shaping core between that feed and the import pipeline, and works in
// two phases:
//
//  1. Assembly keeps the source's original 1-based row numbering while the
//     unordered cells are placed into a sparse table and the configured
//     header row is lifted out as field names.
//  2. The remaining rows pass through the configured filter chain and are
//     then renumbered to a contiguous zero-based record list.
//
// The phase order matters: filters must never see the header row, and the
// header row can only be located while source numbering is intact.
//
// # Source
//
// [Source] is the entry point. It is constructed from a [Config], loads the
// whole worksheet into memory with [Source.Load], and exposes the result
// through a small capability surface the hosting pipeline consumes:
//
//	src, err := cellfeed.NewSource(cellfeed.Config{
//	    FeedKey:   "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms",
//	    HeaderRow: 1,
//	})
//	if err := src.Load(ctx); err != nil { ... }
//	src.Rewind()
//	for rec, ok := src.Next(); ok; rec, ok = src.Next() { ... }
//
// A successful load replaces the previous record list and field catalog
// atomically; a failed load leaves them untouched.
//
// # Error taxonomy
//
// [ConfigError] is the only hard failure and is returned at construction,
// before any network access. [FetchError] and [ParseError] make Load fail
// without touching loaded state. A malformed cell label ([AddressError]) is
// recovered locally: the cell is skipped with a warning and the load still
// succeeds.
package cellfeed
