package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/newsrag/pkg/models"
)

// ErrNotFound is returned by Load when no index has been persisted yet.
var ErrNotFound = errors.New("no persisted index")

// IndexStore persists complete index snapshots at a single location.
type IndexStore interface {
	Exists(ctx context.Context) (bool, error)
	Save(ctx context.Context, snap *models.IndexSnapshot) error
	Load(ctx context.Context) (*models.IndexSnapshot, error)
	Close() error
}

// Store kinds accepted by Open.
const (
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Open returns the store of the given kind. location is a file path for the
// file and sqlite kinds and a connection string for postgres.
func Open(ctx context.Context, kind, location string) (IndexStore, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(location), nil
	case KindSQLite:
		return NewSQLiteStore(ctx, location)
	case KindPostgres:
		s, err := New(ctx, location)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported index store: %s", kind)
	}
}

// PGStore keeps the index in Postgres using the pgvector extension.
type PGStore struct {
	pool *pgxpool.Pool
}

// New creates a new PGStore connected to the given database URL.
func New(ctx context.Context, url string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGStore{pool: p}, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the index tables. The embedding column has no fixed
// dimension so that a rebuild with a different provider can replace it.
func (s *PGStore) Migrate(ctx context.Context) error {
	const q = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS news_index_meta (
  id        INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  dim       INT NOT NULL,
  articles  INT NOT NULL,
  built_at  TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS news_chunks (
  ord        INT PRIMARY KEY,
  text       TEXT NOT NULL,
  title      TEXT NOT NULL DEFAULT '',
  url        TEXT NOT NULL DEFAULT '',
  published  TEXT NOT NULL DEFAULT '',
  source     TEXT NOT NULL DEFAULT '',
  embedding  vector NOT NULL
);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

// Exists reports whether a snapshot has been saved.
func (s *PGStore) Exists(ctx context.Context) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM news_index_meta)`).Scan(&ok)
	return ok, err
}

// Save replaces the stored snapshot in a single transaction.
func (s *PGStore) Save(ctx context.Context, snap *models.IndexSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM news_chunks`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM news_index_meta`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO news_index_meta (id, dim, articles, built_at) VALUES (1, $1, $2, $3)`,
		snap.Dim, snap.Articles, snap.BuiltAt,
	); err != nil {
		return err
	}

	const q = `
		INSERT INTO news_chunks (ord, text, title, url, published, source, embedding)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	batch := &pgx.Batch{}
	for i, e := range snap.Entries {
		batch.Queue(q, i, e.Text, e.Metadata.Title, e.Metadata.URL, e.Metadata.Published, e.Metadata.Source,
			pgvector.NewVector(e.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

// Load reads the stored snapshot, or returns ErrNotFound.
func (s *PGStore) Load(ctx context.Context) (*models.IndexSnapshot, error) {
	snap := &models.IndexSnapshot{}
	err := s.pool.QueryRow(ctx, `SELECT dim, articles, built_at FROM news_index_meta WHERE id = 1`).
		Scan(&snap.Dim, &snap.Articles, &snap.BuiltAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT text, title, url, published, source, embedding FROM news_chunks ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		var v pgvector.Vector
		if err := rows.Scan(&e.Text, &e.Metadata.Title, &e.Metadata.URL, &e.Metadata.Published,
			&e.Metadata.Source, &v); err != nil {
			return nil, err
		}
		e.Vector = v.Slice()
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

// Ping checks the database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
