// Package indexer runs the two content stages of the pipeline for a branch.
//
// The chunk stage reads every pending file of the branch from a
// ContentSource, chunks it, and replaces the file's stored chunks in one
// transaction per file:
//
//	stats, err := idx.Chunk(ctx, branch, indexer.DirSource(workdir), report)
//
// Files are read by a bounded pool of goroutines and written by a single
// goroutine. A file that produces chunks becomes fetched; a file that
// produces none (ignored or empty) becomes done. Unreadable files stay
// pending and are retried on the next run. Once no file is pending the
// branch becomes files_processed.
//
// The embed stage is the embedding orchestrator:
//
//	es, err := idx.Embed(ctx, branch, report)
//
// Unembedded chunks are sent to the embedder in fixed-size batches, one
// batch at a time. Each batch's vectors commit together with the status of
// every file that became fully embedded (fetched -> ingested). After the
// last batch the branch becomes embeddings_generated if every file is
// ingested or done. Running Embed on a fully embedded branch processes no
// chunks and changes nothing.
//
// With Config.Placeholder set, a failed embedding call is replaced by
// deterministic placeholder vectors recorded under the "placeholder" model.
// Those chunks are queued again on every later run until the embedder
// returns real vectors for them.
package indexer
