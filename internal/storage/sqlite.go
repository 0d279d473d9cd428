// Package storage exports finished crawl sessions to SQLite so they can be
// queried without loading the whole JSON document.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// Meta keys written by SaveSession.
const (
	MetaSessionID     = "session_id"
	MetaRootURL       = "root_url"
	MetaStarted       = "started"
	MetaFinished      = "finished"
	MetaTotalRequests = "total_requests"
	MetaTotalTraffic  = "total_traffic_bytes"
	MetaSkipped       = "skipped"
	MetaParameters    = "parameters"
)

// SQLiteStore writes session exports to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}

	if err := store.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// InitSchema creates the database schema
func (s *SQLiteStore) InitSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession replaces the database contents with sess. The export runs in a
// single transaction, so readers see either the previous export or this one.
func (s *SQLiteStore) SaveSession(sess *session.Session) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range exportTables {
		if _, err = tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err = saveTree(tx, sess.Tree); err != nil {
		return err
	}
	if err = saveErrors(tx, sess.ErrorURLs()); err != nil {
		return err
	}
	if err = saveStatusCodes(tx, sess.StatusCodes()); err != nil {
		return err
	}
	if err = saveMeta(tx, sess); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func saveTree(tx *sql.Tx, t *tree.Tree) error {
	dirStmt, err := tx.Prepare(`
		INSERT INTO directories (id, parent_id, url, name, description, parser, depth, finished, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare directory statement: %w", err)
	}
	defer func() { _ = dirStmt.Close() }()

	fileStmt, err := tx.Prepare(`
		INSERT INTO files (directory_id, url, name, size, description)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare file statement: %w", err)
	}
	defer func() { _ = fileStmt.Close() }()

	// Walk visits parents first, so foreign keys are always satisfied.
	var walkErr error
	t.Walk(func(n tree.DirectoryNode, depth int) bool {
		var parent sql.NullInt64
		if n.Parent != tree.NoParent {
			parent = sql.NullInt64{Int64: int64(n.Parent), Valid: true}
		}
		if _, err := dirStmt.Exec(int64(n.ID), parent, n.URL, n.Name,
			nullString(n.Description), nullString(n.ParserTag), depth, n.Finished, n.Error); err != nil {
			walkErr = fmt.Errorf("failed to insert directory %s: %w", n.URL, err)
			return false
		}

		for _, f := range n.Files {
			var size sql.NullInt64
			if f.Size.Known {
				size = sql.NullInt64{Int64: f.Size.Bytes, Valid: true}
			}
			if _, err := fileStmt.Exec(int64(n.ID), f.URL, f.Name, size, nullString(f.Description)); err != nil {
				walkErr = fmt.Errorf("failed to insert file %s: %w", f.URL, err)
				return false
			}
		}
		return walkErr == nil
	})
	return walkErr
}

func saveErrors(tx *sql.Tx, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	stmt, err := tx.Prepare("INSERT INTO crawl_errors (url) VALUES (?)")
	if err != nil {
		return fmt.Errorf("failed to prepare error statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range urls {
		if _, err := stmt.Exec(u); err != nil {
			return fmt.Errorf("failed to insert error %s: %w", u, err)
		}
	}
	return nil
}

func saveStatusCodes(tx *sql.Tx, codes map[int]int) error {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	for _, code := range keys {
		if _, err := tx.Exec("INSERT INTO http_status (code, count) VALUES (?, ?)", code, codes[code]); err != nil {
			return fmt.Errorf("failed to insert status %d: %w", code, err)
		}
	}
	return nil
}

func saveMeta(tx *sql.Tx, sess *session.Session) error {
	params, err := json.Marshal(sess.Params.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	finished := ""
	if !sess.Finished.IsZero() {
		finished = sess.Finished.Format(time.RFC3339Nano)
	}

	meta := [][2]string{
		{MetaSessionID, sess.ID},
		{MetaRootURL, sess.RootURL},
		{MetaStarted, sess.Started.Format(time.RFC3339Nano)},
		{MetaFinished, finished},
		{MetaTotalRequests, strconv.FormatInt(sess.Requests(), 10)},
		{MetaTotalTraffic, strconv.FormatInt(sess.Traffic(), 10)},
		{MetaSkipped, strconv.FormatInt(sess.Skipped(), 10)},
		{MetaParameters, string(params)},
	}
	for _, kv := range meta {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO crawl_meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
			kv[0], kv[1],
		); err != nil {
			return fmt.Errorf("failed to set meta %s: %w", kv[0], err)
		}
	}
	return nil
}

// GetMeta retrieves a metadata value
func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM crawl_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value
func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO crawl_meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

// Counts reports row counts of the export tables, mostly for diagnostics.
func (s *SQLiteStore) Counts() (directories, files int, err error) {
	if err = s.db.QueryRow("SELECT COUNT(*) FROM directories").Scan(&directories); err != nil {
		return 0, 0, fmt.Errorf("failed to count directories: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("failed to count files: %w", err)
	}
	return directories, files, nil
}

// TotalSize sums the known file sizes and counts files of unknown size.
func (s *SQLiteStore) TotalSize() (size int64, unknown int, err error) {
	var sum sql.NullInt64
	err = s.db.QueryRow("SELECT SUM(size), COUNT(*) - COUNT(size) FROM files").Scan(&sum, &unknown)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum sizes: %w", err)
	}
	return sum.Int64, unknown, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
