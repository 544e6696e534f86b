// Package storage provides SQLite-based persistence for the repository index.
//
// # Database Schema
//
// Tables:
//   - repositories: one row per normalized repository location
//   - branches: (repository, name) with last seen commit and lifecycle status
//   - files: content-addressed (repository, path, content id) records
//   - branch_files: many-to-many association between branches and files
//   - chunks: ordered text slices of a file with an optional embedding
//
// Foreign keys cascade from repositories to branches and files, and from
// branches and files to branch_files. DeleteFile also deletes chunks
// explicitly so cleanup does not depend on the foreign_keys pragma.
//
// # Transactions
//
// Multi-row mutations run through WithTx, which commits when the callback
// returns nil and rolls back on error or panic:
//
//	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
//	    if err := tx.LinkFile(ctx, branchID, fileID); err != nil {
//	        return err
//	    }
//	    return tx.UpdateBranch(ctx, branch)
//	})
//
// A Tx exposes the full Storage interface, so stage code is written once
// and runs against either handle.
//
// # Vectors
//
// Embeddings are stored as little-endian float32 blobs. Retrieval is a
// linear scan (ScanBranchVectors); there is no vector index.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite. Building with the cgosqlite
// tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags cgosqlite ./...
package storage
