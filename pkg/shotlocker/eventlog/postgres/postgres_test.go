package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, f.err
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	return nil
}

func TestLog_Append(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	log := New(db)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := log.Append(ctx, shotlocker.LogEntry{
		ID:         "5f0c6f8e-8f2a-4f64-9b7c-0f4d1c2e3a4b",
		EditID:     "abc123def4",
		Active:     true,
		CreateTime: created,
		Region:     "us-west-2",
		Message:    "Edit (abc123def4) validated",
		Fields:     map[string]any{"stage": "validate"},
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].query, "INSERT INTO shotlocker_event_log")
	assert.Equal(t, "abc123def4", db.calls[0].args[1])
	assert.Equal(t, created, db.calls[0].args[3])
	assert.JSONEq(t, `{"stage":"validate"}`, string(db.calls[0].args[6].([]byte)))
}

func TestLog_Migrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, New(db).Migrate(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Equal(t, Schema, db.calls[0].query)
}

func TestHandlePostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"UndefinedTable", &pgconn.PgError{Code: "42P01"}, shotlocker.ErrStoreFailure},
		{"Duplicate", &pgconn.PgError{Code: "23505"}, shotlocker.ErrValidation},
		{"NotNull", &pgconn.PgError{Code: "23502", ColumnName: "message"}, shotlocker.ErrValidation},
		{"Timeout", context.DeadlineExceeded, shotlocker.ErrStoreTimeout},
		{"Other", errors.New("connection refused"), shotlocker.ErrStoreFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, handlePostgresError("append event", tt.err), tt.kind)
		})
	}

	db := &fakeDB{err: &pgconn.PgError{Code: "42P01"}}
	err := New(db).Append(context.Background(), shotlocker.LogEntry{EditID: "abc123def4", Message: "m"})
	assert.ErrorIs(t, err, shotlocker.ErrStoreFailure)
	assert.Contains(t, err.Error(), "migration required")
}
