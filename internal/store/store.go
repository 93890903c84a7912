// Package store persists cycle reports, deployments, and the audit trail
// in PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgx pool so tests can substitute pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements schemas.ReportStore and schemas.AuditSink on Postgres.
type Store struct {
	db     DBPool
	logger *zap.Logger
}

// NewStore wraps an existing pool.
func NewStore(db DBPool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// Connect opens a pool against the configured URL.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewStore(pool, logger), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cycle_reports (
    cycle_id   TEXT PRIMARY KEY,
    trigger    TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time   TIMESTAMPTZ NOT NULL,
    report     JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS deployments (
    id             TEXT PRIMARY KEY,
    opportunity_id TEXT NOT NULL,
    component      TEXT NOT NULL,
    previous_ref   TEXT NOT NULL,
    new_hash       TEXT NOT NULL,
    scope          TEXT NOT NULL,
    deployed_at    TIMESTAMPTZ NOT NULL,
    status         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_records (
    id        TEXT PRIMARY KEY,
    component TEXT NOT NULL,
    sequence  BIGINT NOT NULL,
    kind      TEXT NOT NULL,
    payload   JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (component, sequence)
);`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveReport persists a finished cycle report.
func (s *Store) SaveReport(ctx context.Context, report schemas.CycleReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report %s: %w", report.CycleID, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO cycle_reports (cycle_id, trigger, start_time, end_time, report)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cycle_id) DO UPDATE SET report = EXCLUDED.report, end_time = EXCLUDED.end_time`,
		report.CycleID, string(report.Trigger), report.StartTime, report.EndTime, payload)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", report.CycleID, err)
	}
	return nil
}

// GetReport loads a cycle report by ID.
func (s *Store) GetReport(ctx context.Context, cycleID string) (schemas.CycleReport, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT report FROM cycle_reports WHERE cycle_id = $1`, cycleID).Scan(&payload)
	if err != nil {
		return schemas.CycleReport{}, fmt.Errorf("loading report %s: %w", cycleID, err)
	}

	var report schemas.CycleReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return schemas.CycleReport{}, fmt.Errorf("decoding report %s: %w", cycleID, err)
	}
	return report, nil
}

// LatestReports loads up to limit reports, newest first. Used by the
// status command to show recent cycle outcomes.
func (s *Store) LatestReports(ctx context.Context, limit int) ([]schemas.CycleReport, error) {
	rows, err := s.db.Query(ctx,
		`SELECT report FROM cycle_reports ORDER BY end_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading latest reports: %w", err)
	}
	defer rows.Close()

	var reports []schemas.CycleReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		var report schemas.CycleReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("decoding report row: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating report rows: %w", err)
	}
	return reports, nil
}

// SaveDeployment persists a deployment record.
func (s *Store) SaveDeployment(ctx context.Context, dep schemas.Deployment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployments (id, opportunity_id, component, previous_ref, new_hash, scope, deployed_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dep.ID, dep.OpportunityID, dep.Component, dep.PreviousVersionRef,
		dep.NewVersionHash, string(dep.Scope), dep.DeployedAt, string(dep.Status))
	if err != nil {
		return fmt.Errorf("saving deployment %s: %w", dep.ID, err)
	}
	return nil
}

// UpdateDeploymentStatus records the monitor's verdict.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, status schemas.DeploymentStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("updating deployment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating deployment %s: no such deployment", id)
	}
	return nil
}

// Append writes an audit record with the next per-component sequence
// number. The sequence is assigned inside a transaction so concurrent
// appends for one component stay strictly ordered.
func (s *Store) Append(ctx context.Context, record schemas.AuditRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM audit_records WHERE component = $1`,
		record.Component).Scan(&next)
	if err != nil {
		return fmt.Errorf("allocating audit sequence for %s: %w", record.Component, err)
	}
	record.Sequence = next

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding audit record %s: %w", record.ID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_records (id, component, sequence, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.Component, record.Sequence, record.Kind, payload, record.Timestamp)
	if err != nil {
		return fmt.Errorf("saving audit record %s: %w", record.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing audit record %s: %w", record.ID, err)
	}
	return nil
}
