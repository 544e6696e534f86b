// Package chunker partitions file content into ordered, size-bounded chunks
// ready for embedding.
//
// The file extension selects a strategy:
//   - source: recursive split on declaration boundaries, then blank lines,
//     lines, words and characters
//   - text: recursive split on paragraphs, lines, words and characters
//   - sql: statement-aware split using a tokenizer that understands string
//     literals, comments, dollar-quoted bodies, BEGIN/END compound blocks
//     and MySQL DELIMITER directives
//   - ignore: binary and generated artifacts produce no chunks
//
// Every chunk starts with a "File: <path>" header so it can be read out of
// context. Consecutive source and text chunks overlap by a fixed number of
// characters.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultOptions())
//	for _, ch := range c.Chunk("db/schema.sql", content) {
//	    fmt.Printf("#%d: %d tokens\n", ch.Ordinal, ch.TokenCount)
//	}
//
// Input is sanitized first: it is truncated to MaxInputBytes, NUL bytes are
// removed and invalid UTF-8 is replaced with U+FFFD. Chunk never fails.
package chunker
