// Package searcher ranks the embedded chunks of a branch against a
// natural-language query.
//
// A search embeds the query once, scans every embedded chunk reachable from
// the branch and scores it with the configured similarity:
//   - cosine (default): the cosine of the angle between query and chunk vectors
//   - dot: the coordinate-wise product sum divided by the dimension, with no
//     length normalization
//
// Include and exclude globs restrict which paths are scored. In a glob "**"
// spans any number of directories and "*" stays within one path segment.
// Results are sorted by descending score, ties broken by path and ordinal,
// and truncated to the request limit. Keywords are applied last: a result
// survives when its text contains at least one keyword, ignoring case, so a
// keyword search may return fewer results than the limit.
//
// # Lazy backfill
//
// When a branch has chunks but none carry vectors yet, Search hands the
// branch to a Backfiller (normally *indexer.Indexer) once and scans again.
// A branch with no chunks at all returns an empty result without backfill.
//
//	s := searcher.NewSearcher(store, emb, idx, searcher.Config{}, logger)
//	resp, err := s.Search(ctx, branch, searcher.SearchRequest{
//	    Query:   "where are retries configured",
//	    Include: []string{"internal/**"},
//	    Limit:   5,
//	}, nil)
//
// # Caching
//
// Requests with UseCache set are answered from an LRU of recent responses.
// The cache key covers the branch head, status and chunk counts, so any
// sync or embedding pass that changes the branch also changes the key.
package searcher
