package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/repoctx-mcp/internal/state"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned when BeginTx is called on a transaction handle
	ErrNestedTx = errors.New("nested transactions are not supported")
)

// SQLiteStorage implements the Storage interface using SQLite.
// The same type backs both the database handle and transaction handles; only
// the querier differs.
type SQLiteStorage struct {
	db *sql.DB
	q  querier
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath, applies pending migrations and returns the store.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already configured database handle. No migrations are run.
func NewWithDB(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db, q: db}
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return nil, ErrNestedTx
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{SQLiteStorage: &SQLiteStorage{db: s.db, q: tx}, tx: tx}, nil
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	*SQLiteStorage
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Close on a transaction handle leaves the database open.
func (t *sqliteTx) Close() error {
	return nil
}

// Repository operations

func (s *SQLiteStorage) UpsertRepository(ctx context.Context, repo *Repository) error {
	query := `
		INSERT INTO repositories (location, name, local_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(location) DO UPDATE SET
			name = excluded.name,
			local_path = excluded.local_path,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := s.q.QueryRowContext(ctx, query, repo.Location, repo.Name, repo.LocalPath, now, now).
		Scan(&repo.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	repo.UpdatedAt = now
	return nil
}

const repositoryColumns = `id, location, name, local_path, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*Repository, error) {
	var r Repository
	if err := row.Scan(&r.ID, &r.Location, &r.Name, &r.LocalPath, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, location string) (*Repository, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE location = ?`, location)
	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY location`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// Branch operations

const branchColumns = `id, repository_id, name, last_commit, status, created_at, updated_at`

func scanBranch(row interface{ Scan(...any) error }) (*Branch, error) {
	var b Branch
	var status string
	if err := row.Scan(&b.ID, &b.RepositoryID, &b.Name, &b.LastCommit, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := state.ParseBranchStatus(status)
	if err != nil {
		return nil, err
	}
	b.Status = st
	return &b, nil
}

func (s *SQLiteStorage) GetOrCreateBranch(ctx context.Context, repositoryID int64, name string) (*Branch, error) {
	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO branches (repository_id, name, last_commit, status, created_at, updated_at)
		VALUES (?, ?, '', ?, ?, ?)
		ON CONFLICT(repository_id, name) DO NOTHING
	`, repositoryID, name, string(state.BranchPending), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}
	return s.GetBranch(ctx, repositoryID, name)
}

func (s *SQLiteStorage) GetBranch(ctx context.Context, repositoryID int64, name string) (*Branch, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = ? AND name = ?`, repositoryID, name)
	b, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return b, nil
}

func (s *SQLiteStorage) GetBranchByID(ctx context.Context, branchID int64) (*Branch, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = ?`, branchID)
	b, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return b, nil
}

func (s *SQLiteStorage) ListBranches(ctx context.Context, repositoryID int64) ([]*Branch, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = ? ORDER BY name`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var branches []*Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// UpdateBranch persists the branch's last commit and status.
func (s *SQLiteStorage) UpdateBranch(ctx context.Context, branch *Branch) error {
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE branches SET last_commit = ?, status = ?, updated_at = ? WHERE id = ?`,
		branch.LastCommit, string(branch.Status), now, branch.ID)
	if err != nil {
		return fmt.Errorf("failed to update branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	branch.UpdatedAt = now
	return nil
}

// File operations

const fileColumns = `f.id, f.repository_id, f.path, f.content_id, f.status, f.created_at, f.updated_at`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var status string
	if err := row.Scan(&f.ID, &f.RepositoryID, &f.Path, &f.ContentID, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := state.ParseFileStatus(status)
	if err != nil {
		return nil, err
	}
	f.Status = st
	return &f, nil
}

func (s *SQLiteStorage) CreateFile(ctx context.Context, file *File) error {
	if file.Status == "" {
		file.Status = state.FilePending
	}
	now := time.Now()
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO files (repository_id, path, content_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, file.RepositoryID, file.Path, file.ContentID, string(file.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	file.ID = id
	file.CreatedAt = now
	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) FindFile(ctx context.Context, repositoryID int64, path, contentID string) (*File, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM files f
		WHERE f.repository_id = ? AND f.path = ? AND f.content_id = ?
	`, repositoryID, path, contentID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return f, nil
}

func (s *SQLiteStorage) GetFileByID(ctx context.Context, fileID int64) (*File, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files f WHERE f.id = ?`, fileID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// UpdateFile persists the file's content identifier and status.
func (s *SQLiteStorage) UpdateFile(ctx context.Context, file *File) error {
	now := time.Now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE files SET content_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		file.ContentID, string(file.Status), now, file.ID)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	file.UpdatedAt = now
	return nil
}

// DeleteFile removes the file's chunks, then the file itself.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	if _, err := s.DeleteChunksByFile(ctx, fileID); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) queryFiles(ctx context.Context, query string, args ...any) ([]*File, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListBranchFiles(ctx context.Context, branchID int64) ([]*File, error) {
	return s.queryFiles(ctx, `
		SELECT `+fileColumns+` FROM files f
		JOIN branch_files bf ON bf.file_id = f.id
		WHERE bf.branch_id = ?
		ORDER BY f.path
	`, branchID)
}

func (s *SQLiteStorage) ListBranchFilesByStatus(ctx context.Context, branchID int64, status state.FileStatus) ([]*File, error) {
	return s.queryFiles(ctx, `
		SELECT `+fileColumns+` FROM files f
		JOIN branch_files bf ON bf.file_id = f.id
		WHERE bf.branch_id = ? AND f.status = ?
		ORDER BY f.path
	`, branchID, string(status))
}

func (s *SQLiteStorage) CountFileStatuses(ctx context.Context, branchID int64) (map[state.FileStatus]int, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT f.status, COUNT(*) FROM files f
		JOIN branch_files bf ON bf.file_id = f.id
		WHERE bf.branch_id = ?
		GROUP BY f.status
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count file statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[state.FileStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[state.FileStatus(status)] = n
	}
	return counts, rows.Err()
}

// Association operations

func (s *SQLiteStorage) LinkFile(ctx context.Context, branchID, fileID int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO branch_files (branch_id, file_id) VALUES (?, ?)`, branchID, fileID)
	if err != nil {
		return fmt.Errorf("failed to link file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UnlinkFile(ctx context.Context, branchID, fileID int64) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM branch_files WHERE branch_id = ? AND file_id = ?`, branchID, fileID)
	if err != nil {
		return fmt.Errorf("failed to unlink file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CountFileLinks(ctx context.Context, fileID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM branch_files WHERE file_id = ?`, fileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count file links: %w", err)
	}
	return n, nil
}

// Chunk operations

// InsertChunks stores chunks for a file. Ordinals are taken from the chunks as given.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, fileID int64, chunks []*Chunk) error {
	query := `
		INSERT INTO chunks (file_id, ordinal, content, token_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now()
	for _, c := range chunks {
		result, err := s.q.ExecContext(ctx, query, fileID, c.Ordinal, c.Content, c.TokenCount, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
		c.FileID = fileID
		c.CreatedAt = now
	}
	return nil
}

func (s *SQLiteStorage) DeleteChunksByFile(ctx context.Context, fileID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetChunks returns the chunks with the given IDs in ascending ID order.
// Missing IDs are skipped.
func (s *SQLiteStorage) GetChunks(ctx context.Context, chunkIDs []int64) ([]*Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, file_id, ordinal, content, embedding, model, token_count, created_at
		FROM chunks WHERE id IN (%s) ORDER BY id
	`, strings.Join(placeholders, ","))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var model sql.NullString
		if err := rows.Scan(&c.ID, &c.FileID, &c.Ordinal, &c.Content, &blob, &model, &c.TokenCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			c.Vector = deserializeVector(blob)
		}
		c.Model = model.String
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListUnembeddedChunkIDs(ctx context.Context, branchID int64) ([]int64, error) {
	ids, err := s.listChunkIDs(ctx, `
		SELECT c.id FROM chunks c
		JOIN branch_files bf ON bf.file_id = c.file_id
		WHERE bf.branch_id = ? AND c.embedding IS NULL
		ORDER BY c.id
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded chunks: %w", err)
	}
	return ids, nil
}

// ListChunkIDsByModel returns the embedded chunks of the branch whose vector
// was produced by model.
func (s *SQLiteStorage) ListChunkIDsByModel(ctx context.Context, branchID int64, model string) ([]int64, error) {
	ids, err := s.listChunkIDs(ctx, `
		SELECT c.id FROM chunks c
		JOIN branch_files bf ON bf.file_id = c.file_id
		WHERE bf.branch_id = ? AND c.embedding IS NOT NULL AND c.model = ?
		ORDER BY c.id
	`, branchID, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks by model: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStorage) listChunkIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) CountUnembeddedChunks(ctx context.Context, fileID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE file_id = ? AND embedding IS NULL`, fileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unembedded chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) SetChunkEmbedding(ctx context.Context, chunkID int64, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("chunk %d: empty vector", chunkID)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE chunks SET embedding = ?, model = ? WHERE id = ?`,
		serializeVector(vector), model, chunkID)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %d: %w", chunkID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) CountBranchChunks(ctx context.Context, branchID int64) (ChunkCounts, error) {
	var counts ChunkCounts
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(c.id), COUNT(c.embedding) FROM chunks c
		JOIN branch_files bf ON bf.file_id = c.file_id
		WHERE bf.branch_id = ?
	`, branchID).Scan(&counts.Total, &counts.Embedded)
	if err != nil {
		return ChunkCounts{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStorage) ScanBranchVectors(ctx context.Context, branchID int64, fn func(ChunkVector) error) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.file_id, f.path, c.ordinal, c.embedding FROM chunks c
		JOIN files f ON f.id = c.file_id
		JOIN branch_files bf ON bf.file_id = c.file_id
		WHERE bf.branch_id = ? AND c.embedding IS NOT NULL
		ORDER BY c.id
	`, branchID)
	if err != nil {
		return fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cv ChunkVector
		var blob []byte
		if err := rows.Scan(&cv.ChunkID, &cv.FileID, &cv.Path, &cv.Ordinal, &blob); err != nil {
			return err
		}
		cv.Vector = deserializeVector(blob)
		if err := fn(cv); err != nil {
			return err
		}
	}
	return rows.Err()
}
