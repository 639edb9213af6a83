package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"qrattend/internal/attendance"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS attendance_records (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		code       TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		check_out  DATETIME,
		qr_code    TEXT NOT NULL DEFAULT '',
		extra      TEXT NOT NULL DEFAULT '{}'
	)`},
	insert: `
		INSERT INTO attendance_records (code, created_at, updated_at, check_out, qr_code, extra)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
	selectAll: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records ORDER BY seq
	`,
	selectOne: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records WHERE code = ?
	`,
	selectForUpdate: `
		SELECT code, created_at, updated_at, check_out, qr_code, extra
		FROM attendance_records WHERE code = ?
	`,
	update: `
		UPDATE attendance_records
		SET updated_at = ?2, check_out = ?3, qr_code = ?4
		WHERE code = ?1
	`,
	isDuplicate: func(err error) bool {
		var sqlErr sqlite3.Error
		if !errors.As(err, &sqlErr) {
			return false
		}
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	},
	serializeWrites: true,
}

// NewSQLiteStore opens (and creates) the database at path. Transactions start
// with BEGIN IMMEDIATE so the read-modify-write in Update holds the write lock.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, attendance.Unavailable("sqlite: mkdir", err)
		}
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := NewDB(ctx, "sqlite3", dsn, PoolOptions{MaxOpen: 4, MaxIdle: 4})
	if err != nil {
		return nil, err
	}
	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
