package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists artifacts in PostgreSQL. Image bytes live in a bytea
// column and are served by the relay under /images/{id}.
type PostgresStore struct {
	pool    *pgxpool.Pool
	baseURL string
}

func NewPostgresStore(ctx context.Context, databaseURL, publicBaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			data BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_uploaded ON artifacts (uploaded_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Upload(ctx context.Context, data []byte, contentType string, meta Metadata) (Artifact, error) {
	art := Artifact{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Uploaded:    time.Now().UTC(),
		Metadata:    cloneMeta(meta),
	}
	art.URL = s.baseURL + "/images/" + art.ID

	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, content_type, data, metadata, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		art.ID, contentType, data, art.Metadata, art.Uploaded,
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}
	return art, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Artifact, []byte, error) {
	var (
		art  = Artifact{ID: id}
		data []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT content_type, data, metadata, uploaded_at FROM artifacts WHERE id=$1`, id,
	).Scan(&art.ContentType, &data, &art.Metadata, &art.Uploaded)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, nil, ErrNotFound
	}
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("get artifact: %w", err)
	}
	art.URL = s.baseURL + "/images/" + id
	return art, data, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, metadata, uploaded_at FROM artifacts ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var art Artifact
		if err := rows.Scan(&art.ID, &art.Metadata, &art.Uploaded); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		art.URL = s.baseURL + "/images/" + art.ID
		out = append(out, art)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
