// Package embedder turns chunk and query texts into vectors.
//
// Providers:
//   - local: deterministic hashed bag-of-words vectors, no network access
//   - openai, jina, ollama: any OpenAI-compatible /embeddings endpoint,
//     called through github.com/sashabaranov/go-openai
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama", CacheSize: 1000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vectors, err := emb.Embed(ctx, []string{"func ParseFile(path string) error"})
//
// Embed returns one vector per input, in input order. Remote providers split
// large inputs into requests of at most MaxBatchSize texts and retry
// transient failures (network errors, 408, 429, 5xx) with exponential
// backoff. Other client errors fail immediately.
//
// # Caching
//
// When Config.CacheSize is positive the embedder is wrapped in an LRU cache
// keyed by model and SHA-256 of the text. Only cache misses reach the
// provider, and cached vectors are copied on the way out.
//
// # Placeholder Vectors
//
// PlaceholderVector derives a fixed-shape vector from a hash of the text.
// The indexer substitutes it for failed embedding calls when placeholder
// mode is enabled, so the rest of the pipeline can run without a live
// provider.
package embedder
