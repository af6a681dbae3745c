// Package store persists documents, their version history and detected conflicts.
//
// Metadata lives in SQL (SQLite by default, PostgreSQL optionally) and version
// contents live in a content-addressed blob store next to it.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"    // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/reconcile/internal/conflict"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/store/blobstore"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed schema.sql
var schemaFS embed.FS

// Config selects the database and the blob directory.
type Config struct {
	Driver  string `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN     string `yaml:"dsn" validate:"required"`
	BlobDir string `yaml:"blob_dir" validate:"required"`
	// MaxOpenConns applies to PostgreSQL; SQLite always uses a single connection.
	MaxOpenConns int `yaml:"max_open_conns" validate:"gte=0"`
}

// DefaultConfig stores everything under dir.
func DefaultConfig(dir string) Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          filepath.Join(dir, "reconcile.db"),
		BlobDir:      filepath.Join(dir, "blobs"),
		MaxOpenConns: 25,
	}
}

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	blobs  *blobstore.Blobstore
	driver string
	logger logging.Logger
	now    func() time.Time
}

// Open connects to the database, applies the schema and opens the blob store.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.New("store: nil logger provided")
	}

	switch cfg.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applySchema(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	logger.Info("store initialized",
		logging.Field{Key: "driver", Value: cfg.Driver},
		logging.Field{Key: "blob_dir", Value: blobs.Dir()})

	return &Store{
		db:     db,
		blobs:  blobs,
		driver: cfg.Driver,
		logger: logger,
		now:    time.Now,
	}, nil
}

// applySchema sets SQLite pragmas and executes the embedded schema.
func applySchema(ctx context.Context, db *sql.DB, driver string) error {
	if driver == DriverSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
			}
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database and the blob store.
func (s *Store) Close() error {
	return errors.Join(s.db.Close(), s.blobs.Close())
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ─── Documents ─────────────────────────────────────────────────────────

// CreateDocument creates a document whose first version holds content.
func (s *Store) CreateDocument(ctx context.Context, title, content, authorID, authorName string) (*Document, *Version, error) {
	blobID, err := s.blobs.Put([]byte(content))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store content: %w", err)
	}

	now := s.now().UTC()
	doc := &Document{
		ID:            uuid.NewString(),
		Title:         title,
		HeadVersionID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ver := &Version{
		ID:         doc.HeadVersionID,
		DocumentID: doc.ID,
		Seq:        1,
		BlobID:     blobID,
		Size:       int64(len(content)),
		AuthorID:   authorID,
		AuthorName: authorName,
		Message:    "created",
		CreatedAt:  now,
		Content:    content,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (id, title, head_version_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), doc.ID, doc.Title, doc.HeadVersionID, now.UnixMilli(), now.UnixMilli()); err != nil {
		return nil, nil, fmt.Errorf("failed to insert document: %w", err)
	}
	if err := s.insertVersion(ctx, tx, ver); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("document created",
		logging.Field{Key: "document_id", Value: doc.ID},
		logging.Field{Key: "version_id", Value: ver.ID})
	return doc, ver, nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, head_version_id, created_at, updated_at FROM documents WHERE id = ?
	`), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, head_version_id, created_at, updated_at
		FROM documents ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (*Document, error) {
	var (
		doc              Document
		head             sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&doc.ID, &doc.Title, &head, &created, &updated); err != nil {
		return nil, err
	}
	doc.HeadVersionID = head.String
	doc.CreatedAt = time.UnixMilli(created).UTC()
	doc.UpdatedAt = time.UnixMilli(updated).UTC()
	return &doc, nil
}

// ─── Versions ──────────────────────────────────────────────────────────

// Commit appends a version to a document. It fails with ErrStaleParent when
// req.ParentID is no longer the head, leaving the document unchanged.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(tx)

	var head sql.NullString
	err = tx.QueryRowContext(ctx, s.headQuery(), req.DocumentID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", req.DocumentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read head: %w", err)
	}
	if head.String != req.ParentID {
		return nil, ErrStaleParent
	}

	blobID, err := s.blobs.Put([]byte(req.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(seq), 0) FROM versions WHERE document_id = ?
	`), req.DocumentID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}

	now := s.now().UTC()
	ver := &Version{
		ID:         uuid.NewString(),
		DocumentID: req.DocumentID,
		ParentID:   req.ParentID,
		Seq:        seq + 1,
		BlobID:     blobID,
		Size:       int64(len(req.Content)),
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Message:    req.Message,
		CreatedAt:  now,
		Content:    req.Content,
	}
	if err := s.insertVersion(ctx, tx, ver); err != nil {
		if isUniqueViolation(err) {
			// Another writer took this seq between our reads.
			return nil, ErrStaleParent
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE documents SET head_version_id = ?, updated_at = ? WHERE id = ? AND head_version_id = ?
	`), ver.ID, now.UnixMilli(), req.DocumentID, req.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to move head: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to move head: %w", err)
	} else if n == 0 {
		return nil, ErrStaleParent
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("version committed",
		logging.Field{Key: "document_id", Value: ver.DocumentID},
		logging.Field{Key: "version_id", Value: ver.ID},
		logging.Field{Key: "seq", Value: ver.Seq})
	return ver, nil
}

// headQuery reads a document's head inside a commit. PostgreSQL locks the row so
// concurrent commits on one document queue up instead of racing for the next seq.
func (s *Store) headQuery() string {
	q := `SELECT head_version_id FROM documents WHERE id = ?`
	if s.driver == DriverPostgres {
		q += ` FOR UPDATE`
	}
	return s.rebind(q)
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, v *Version) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO versions (id, document_id, parent_id, seq, blob_id, size, author_id, author_name, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), v.ID, v.DocumentID, nullableString(v.ParentID), v.Seq, v.BlobID, v.Size,
		v.AuthorID, v.AuthorName, v.Message, v.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

const versionColumns = `id, document_id, parent_id, seq, blob_id, size, author_id, author_name, message, created_at`

// GetVersion returns a version with its content.
func (s *Store) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+versionColumns+` FROM versions WHERE id = ?`), id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	data, err := s.blobs.Get(v.BlobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content of version %s: %w", id, err)
	}
	v.Content = string(data)
	return v, nil
}

// ListVersions returns up to limit versions of a document, newest first, without
// content. A non-positive limit returns all of them.
func (s *Store) ListVersions(ctx context.Context, documentID string, limit int) ([]Version, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	query := `SELECT ` + versionColumns + ` FROM versions WHERE document_id = ? ORDER BY seq DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func scanVersion(sc scanner) (*Version, error) {
	var (
		v       Version
		parent  sql.NullString
		created int64
	)
	if err := sc.Scan(&v.ID, &v.DocumentID, &parent, &v.Seq, &v.BlobID, &v.Size,
		&v.AuthorID, &v.AuthorName, &v.Message, &created); err != nil {
		return nil, err
	}
	v.ParentID = parent.String
	v.CreatedAt = time.UnixMilli(created).UTC()
	return &v, nil
}

// ─── Conflicts ─────────────────────────────────────────────────────────

// SaveConflict stores a newly detected conflict. Any resolution on the record is
// ignored; use AttachResolution.
func (s *Store) SaveConflict(ctx context.Context, rec *ConflictRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("store: conflict record without id")
	}
	body := rec.Conflict
	body.Resolution = nil
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conflicts (id, document_id, base_version_id, head_version_id, detected_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.DocumentID, rec.BaseVersionID, rec.HeadVersionID, rec.Timestamp.UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

const conflictColumns = `id, document_id, base_version_id, head_version_id, body, resolution, resolved_at`

// GetConflict returns a conflict with its resolution, if any.
func (s *Store) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`), id)
	rec, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict: %w", err)
	}
	return rec, nil
}

// ListConflicts returns the conflicts of a document, oldest first. openOnly limits the
// result to unresolved ones.
func (s *Store) ListConflicts(ctx context.Context, documentID string, openOnly bool) ([]ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE document_id = ?`
	if openOnly {
		query += ` AND resolution IS NULL`
	}
	query += ` ORDER BY detected_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	out := []ConflictRecord{}
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AttachResolution records the resolution of a conflict. Only the first call for a
// conflict succeeds; later ones fail with ErrAlreadyResolved.
func (s *Store) AttachResolution(ctx context.Context, id string, res *conflict.Resolution) (*ConflictRecord, error) {
	if res == nil {
		return nil, errors.New("store: nil resolution")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolution: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE conflicts SET resolution = ?, resolved_at = ? WHERE id = ? AND resolution IS NULL
	`), string(data), res.ResolvedAt.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update conflict: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update conflict: %w", err)
	}
	if n == 0 {
		if _, err := s.GetConflict(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("conflict %s: %w", id, ErrAlreadyResolved)
	}
	return s.GetConflict(ctx, id)
}

// ReopenConflict removes the resolution of a conflict, making it open again. It is
// used when a recorded resolution could not be applied to the document.
func (s *Store) ReopenConflict(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE conflicts SET resolution = NULL, resolved_at = NULL WHERE id = ?
	`), id)
	if err != nil {
		return fmt.Errorf("failed to reopen conflict: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reopen conflict: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanConflict(sc scanner) (*ConflictRecord, error) {
	var (
		rec        ConflictRecord
		body       string
		resolution sql.NullString
		resolvedAt sql.NullInt64
		id         string
	)
	if err := sc.Scan(&id, &rec.DocumentID, &rec.BaseVersionID, &rec.HeadVersionID,
		&body, &resolution, &resolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), &rec.Conflict); err != nil {
		return nil, fmt.Errorf("decode conflict %s: %w", id, err)
	}
	rec.ID = id
	if resolution.Valid {
		var r conflict.Resolution
		if err := json.Unmarshal([]byte(resolution.String), &r); err != nil {
			return nil, fmt.Errorf("decode resolution of %s: %w", id, err)
		}
		rec.Resolution = &r
	}
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64).UTC()
		rec.ResolvedAt = &t
	}
	return &rec, nil
}

// ─── Helpers ───────────────────────────────────────────────────────────

func (s *Store) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Warn("failed to rollback transaction", logging.Field{Key: "error", Value: err.Error()})
	}
}

// isUniqueViolation reports a PostgreSQL unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
