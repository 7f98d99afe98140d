package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/seanblong/newsrag/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
  id        INTEGER PRIMARY KEY CHECK (id = 1),
  dim       INTEGER NOT NULL,
  articles  INTEGER NOT NULL,
  built_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS index_entries (
  ord        INTEGER PRIMARY KEY,
  text       TEXT NOT NULL,
  title      TEXT NOT NULL DEFAULT '',
  url        TEXT NOT NULL DEFAULT '',
  published  TEXT NOT NULL DEFAULT '',
  source     TEXT NOT NULL DEFAULT '',
  vector     BLOB NOT NULL
);
`

// SQLiteStore keeps the index in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_meta`).Scan(&n)
	return n > 0, err
}

// Save replaces the stored snapshot in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *models.IndexSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (id, dim, articles, built_at) VALUES (1, ?, ?, ?)`,
		snap.Dim, snap.Articles, snap.BuiltAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO index_entries (ord, text, title, url, published, source, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx, i, e.Text, e.Metadata.Title, e.Metadata.URL,
			e.Metadata.Published, e.Metadata.Source, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (*models.IndexSnapshot, error) {
	snap := &models.IndexSnapshot{}
	var builtAt string
	err := s.db.QueryRowContext(ctx, `SELECT dim, articles, built_at FROM index_meta WHERE id = 1`).
		Scan(&snap.Dim, &snap.Articles, &builtAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if snap.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return nil, fmt.Errorf("parsing built_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, title, url, published, source, vector FROM index_entries ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		var blob []byte
		if err := rows.Scan(&e.Text, &e.Metadata.Title, &e.Metadata.URL, &e.Metadata.Published,
			&e.Metadata.Source, &blob); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
