package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/hibah/internal/config"
	"github.com/pitabwire/hibah/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS review_audit (
	id          uuid PRIMARY KEY,
	seq         bigserial,
	proposal_id text NOT NULL,
	stage_id    text NOT NULL,
	reviewer    text NOT NULL,
	from_status text NOT NULL,
	to_status   text NOT NULL,
	score       double precision NOT NULL,
	comment     text NOT NULL DEFAULT '',
	at          timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS review_audit_proposal_idx ON review_audit (proposal_id, at, seq);
`

// PgStore keeps the trail in PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPgStore connects to cfg.DSN and creates the audit table if needed.
func OpenPgStore(ctx context.Context, cfg config.AuditConfig) (*PgStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	s := &PgStore{pool: pool, now: time.Now}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *PgStore) Close() { s.pool.Close() }

// Append inserts an entry.
func (s *PgStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, s.now())
	if err != nil {
		return Entry{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_audit (id, proposal_id, stage_id, reviewer, from_status, to_status, score, comment, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID.String(), e.ProposalID, e.StageID, e.Reviewer, string(e.From), string(e.To), e.Score, e.Comment, e.At,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert: %w", err)
	}
	return e, nil
}

// List returns a proposal's entries ordered by time.
func (s *PgStore) List(ctx context.Context, proposalID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, proposal_id, stage_id, reviewer, from_status, to_status, score, comment, at
		   FROM review_audit WHERE proposal_id = $1 ORDER BY at, seq`,
		proposalID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e        Entry
		id       string
		from, to string
	)
	if err := row.Scan(&id, &e.ProposalID, &e.StageID, &e.Reviewer, &from, &to, &e.Score, &e.Comment, &e.At); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, err
	}
	e.ID = parsed
	e.From = model.ProposalStatus(from)
	e.To = model.ProposalStatus(to)
	e.At = e.At.UTC()
	return e, nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
