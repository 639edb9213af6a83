package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS attendance_records (
		seq        BIGSERIAL,
		code       TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		check_out  TIMESTAMPTZ,
		qr_code    TEXT NOT NULL DEFAULT '',
		extra      JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_records_seq ON attendance_records(seq)`,
	},
	insert: `
		INSERT INTO attendance_records (code, created_at, updated_at, check_out, qr_code, extra)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`,
	selectAll: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records ORDER BY seq
	`,
	selectOne: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records WHERE code = $1
	`,
	selectForUpdate: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records WHERE code = $1 FOR UPDATE
	`,
	update: `
		UPDATE attendance_records
		SET updated_at = $2, check_out = $3, qr_code = $4
		WHERE code = $1
	`,
	isDuplicate: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
	},
}

// NewPostgresStore connects with pgx and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, err := NewDB(ctx, "pgx", databaseURL, PoolOptions{})
	if err != nil {
		return nil, err
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
