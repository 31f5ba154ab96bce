// Package calllog persists call detail records to Postgres. The store
// is optional; without a database URL the process keeps a Nop recorder
// and calls leave no record.
package calllog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one finished call.
type Record struct {
	ID            uuid.UUID
	CallSid       string
	StreamSid     string
	StartedAt     time.Time
	EndedAt       time.Time
	Status        string
	InboundBytes  int64
	OutboundBytes int64
	BargeIns      int64
	Reconnects    int64
	DroppedFrames int64
	Transcript    []string
}

// Recorder receives finished calls. Implementations must tolerate
// concurrent calls.
type Recorder interface {
	Record(ctx context.Context, r Record) error
	Close()
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }
func (Nop) Close()                               {}

// Store writes records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, runs pending migrations, and returns the store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate call log schema: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open call log pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping call log database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// migrate runs goose over a separate database/sql connection; goose
// does not speak the pgx pool API.
func migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (
			id, call_sid, stream_sid, started_at, ended_at, status,
			inbound_bytes, outbound_bytes, barge_ins, reconnects,
			dropped_frames, transcript
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.CallSid, r.StreamSid, r.StartedAt, r.EndedAt, r.Status,
		r.InboundBytes, r.OutboundBytes, r.BargeIns, r.Reconnects,
		r.DroppedFrames, r.Transcript)
	if err != nil {
		return fmt.Errorf("insert call record %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}
