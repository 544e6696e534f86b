// Package mcp implements the Model Context Protocol (MCP) server for repoctx.
//
// The server exposes three tools to AI coding assistants:
//   - search_repository: index a repository branch as needed, then run a semantic query
//   - index_repository: synchronize, chunk and embed a branch without a query
//   - repository_status: report what is stored for a repository
//
// # Tool: search_repository
//
//	Request:
//	{
//	  "name": "search_repository",
//	  "arguments": {
//	    "repository": "https://github.com/acme/widgets",
//	    "branch": "main",
//	    "query": "where are http handlers registered",
//	    "keywords": ["handler"],
//	    "include": ["internal/**/*.go"],
//	    "exclude": ["**/*_test.go"],
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "01JB3M8Y6Q1ZC4S7W1V0QK9G2D",
//	  "repository": "github.com/acme/widgets",
//	  "branch": "main",
//	  "query": "where are http handlers registered",
//	  "results": [
//	    {
//	      "chunk_id": 412,
//	      "rank": 1,
//	      "path": "internal/server/routes.go",
//	      "ordinal": 2,
//	      "content": "File: internal/server/routes.go\n\n...",
//	      "score": 0.83
//	    }
//	  ],
//	  "index": {"commit": "9f1c...", "status": "embeddings_generated", ...},
//	  "duration_ms": 5120
//	}
//
// # Errors
//
// Failures are returned as tool results with IsError set and a JSON body:
//
//	{"error": {"code": "invalid_input", "message": "query is required"}}
//
// Codes are the error kinds of pkg/types: invalid_input, transport,
// consistency and internal. Messages of internal errors are replaced by
// "internal error"; the details go to the server log.
//
// # Progress
//
// When a call carries a progress token, the server sends
// notifications/progress with progress in [0, 100] and total 100. Values
// never decrease within one call. While the pipeline is silent (a long
// clone or embedding batch) the last value is repeated every
// mcp.heartbeat_interval so clients do not time out.
//
// # Logging
//
// The server logs to stderr; stdout carries the protocol.
package mcp
