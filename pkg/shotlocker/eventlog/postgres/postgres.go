package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// Schema creates the event log table
const Schema = `
CREATE TABLE IF NOT EXISTS shotlocker_event_log (
	id          UUID PRIMARY KEY,
	edit_id     TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	create_time TIMESTAMPTZ NOT NULL,
	region      TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	fields      JSONB,
	seq         BIGSERIAL
);
CREATE INDEX IF NOT EXISTS shotlocker_event_log_edit_idx ON shotlocker_event_log (edit_id, seq);
`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Log implements shotlocker.EventLog using PostgreSQL
type Log struct {
	db DBTX
}

// New creates a new PostgreSQL event log
func New(db DBTX) *Log {
	return &Log{db: db}
}

// NewWithPool creates a new PostgreSQL event log with connection pool
func NewWithPool(pool *pgxpool.Pool) *Log {
	return &Log{db: pool}
}

// Migrate creates the event log table when missing
func (l *Log) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: duplicate event log entry", shotlocker.ErrValidation)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: required field %s is missing", shotlocker.ErrValidation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%w: table does not exist - database migration required", shotlocker.ErrStoreFailure)
		default:
			return fmt.Errorf("%w: database error in %s: %s (code: %s)", shotlocker.ErrStoreFailure, operation, pgErr.Message, pgErr.Code)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: database error in %s: %w", shotlocker.ErrStoreTimeout, operation, err)
	}
	return fmt.Errorf("%w: database error in %s: %w", shotlocker.ErrStoreFailure, operation, err)
}

// Append records a message for an edit
func (l *Log) Append(ctx context.Context, entry shotlocker.LogEntry) error {
	var fields []byte
	if len(entry.Fields) > 0 {
		var err error
		fields, err = json.Marshal(entry.Fields)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO shotlocker_event_log (
			id, edit_id, active, create_time, region, message, fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := l.db.Exec(ctx, query,
		entry.ID, entry.EditID, entry.Active, entry.CreateTime,
		entry.Region, entry.Message, fields)
	if err != nil {
		return handlePostgresError("append event", err)
	}
	return nil
}

// Entries returns an edit's messages in append order
func (l *Log) Entries(ctx context.Context, editID string) ([]shotlocker.LogEntry, error) {
	query := `
		SELECT id, edit_id, active, create_time, region, message, fields
		FROM shotlocker_event_log WHERE edit_id = $1 ORDER BY seq`

	rows, err := l.db.Query(ctx, query, editID)
	if err != nil {
		return nil, handlePostgresError("list events", err)
	}
	defer rows.Close()

	entries := []shotlocker.LogEntry{}
	for rows.Next() {
		var e shotlocker.LogEntry
		var fields []byte
		if err := rows.Scan(&e.ID, &e.EditID, &e.Active, &e.CreateTime, &e.Region, &e.Message, &fields); err != nil {
			return nil, handlePostgresError("scan event", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("%w: event fields: %v", shotlocker.ErrPolicyParse, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list events", err)
	}
	return entries, nil
}

var _ shotlocker.EventLog = (*Log)(nil)
