package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/sweetpotato0/regulatory-rag/audit"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds PostgreSQL connection configuration. DSN, when set, takes
// precedence over the discrete fields.
type Config struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// DefaultConfig returns default PostgreSQL configuration
func DefaultConfig() *Config {
	return &Config{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "regulatory_rag",
		SSLMode: "disable",
		Table:   "audit_runs",
	}
}

func (c *Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Recorder persists audit records in a PostgreSQL table.
type Recorder struct {
	db    *sql.DB
	table string
}

// New connects, pings and ensures the audit table exists.
func New(ctx context.Context, cfg *Config) (*Recorder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	table := cfg.Table
	if table == "" {
		table = "audit_runs"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", errorskg.ErrInvalidInput, table)
	}

	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	r := &Recorder{db: db, table: table}
	if err := r.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return r, nil
}

func (r *Recorder) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		run_id VARCHAR(64) PRIMARY KEY,
		query TEXT NOT NULL,
		model_version TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		states TEXT[] NOT NULL,
		response JSONB,
		started_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s(created_at);
	`, r.table)
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Record upserts rec.
func (r *Recorder) Record(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	states := rec.States
	if states == nil {
		states = []string{}
	}
	var response any
	if len(rec.Response) > 0 {
		response = string(rec.Response)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (run_id, query, model_version, status, confidence, stage, error, states, response, started_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (run_id) DO UPDATE SET
		status = EXCLUDED.status,
		confidence = EXCLUDED.confidence,
		stage = EXCLUDED.stage,
		error = EXCLUDED.error,
		states = EXCLUDED.states,
		response = EXCLUDED.response,
		created_at = EXCLUDED.created_at
	`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Query,
		rec.ModelVersion,
		string(rec.Status),
		rec.Confidence,
		rec.Stage,
		rec.Error,
		pq.Array(states),
		response,
		rec.StartedAt,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit run: %w", err)
	}
	return nil
}

const columns = "run_id, query, model_version, status, confidence, stage, error, states, response, started_at, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*audit.Record, error) {
	rec := &audit.Record{}
	var status string
	var response sql.NullString
	err := row.Scan(
		&rec.RunID,
		&rec.Query,
		&rec.ModelVersion,
		&status,
		&rec.Confidence,
		&rec.Stage,
		&rec.Error,
		pq.Array(&rec.States),
		&response,
		&rec.StartedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = audit.Status(status)
	if response.Valid {
		rec.Response = []byte(response.String)
	}
	return rec, nil
}

// Get retrieves the record for runID.
func (r *Recorder) Get(ctx context.Context, runID string) (*audit.Record, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE run_id = $1", columns, r.table), runID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit record %s: %w", runID, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]*audit.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC, run_id ASC", columns, r.table)
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	out := make([]*audit.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// Clear deletes every record.
func (r *Recorder) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", r.table)); err != nil {
		return fmt.Errorf("failed to clear audit records: %w", err)
	}
	return nil
}

// Ping checks if PostgreSQL connection is alive
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the PostgreSQL connection
func (r *Recorder) Close() error {
	return r.db.Close()
}
