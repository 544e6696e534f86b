// Package types provides types shared between the pipeline stages and the
// outer surfaces (MCP tools, CLI).
//
// Error is the classified error used at the pipeline boundary. Callers
// inspect it with KindOf:
//
//	switch types.KindOf(err) {
//	case types.KindInvalidInput:
//	    // report without retry
//	case types.KindTransport:
//	    // safe to retry the whole pipeline
//	}
//
// SearchResult is the ranked retrieval output; Chunk is the chunker output.
package types
