package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the single session record in a one-row table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS booth_session (
		id INT PRIMARY KEY CHECK (id = 1),
		status TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Current(ctx context.Context) (Record, error) {
	var (
		rec       Record
		sessionID string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT status, session_id, started_at, ended_at, last_updated FROM booth_session WHERE id=1`,
	).Scan(&rec.Status, &sessionID, &rec.StartedAt, &rec.EndedAt, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultIdle(), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read session: %w", err)
	}
	rec.SessionID = sessionID
	return rec, nil
}

func (s *PostgresStore) Start(ctx context.Context) (Record, error) {
	prev, err := s.Current(ctx)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec := Record{
		Status:      StatusActive,
		SessionID:   nextSessionID(prev.SessionID),
		StartedAt:   &now,
		LastUpdated: now,
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO booth_session (id, status, session_id, started_at, ended_at, last_updated)
		 VALUES (1, $1, $2, $3, NULL, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET status=$1, session_id=$2, started_at=$3, ended_at=NULL, last_updated=$4`,
		rec.Status, rec.SessionID, rec.StartedAt, rec.LastUpdated,
	)
	if err != nil {
		return Record{}, fmt.Errorf("start session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) End(ctx context.Context) (Record, error) {
	rec, err := s.Current(ctx)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.EndedAt = &now
	rec.LastUpdated = now
	_, err = s.pool.Exec(ctx,
		`INSERT INTO booth_session (id, status, session_id, started_at, ended_at, last_updated)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET status=$1, session_id=$2, started_at=$3, ended_at=$4, last_updated=$5`,
		rec.Status, rec.SessionID, rec.StartedAt, rec.EndedAt, rec.LastUpdated,
	)
	if err != nil {
		return Record{}, fmt.Errorf("end session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
