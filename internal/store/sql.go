package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"qrattend/internal/attendance"
)

// dialect carries the per-database SQL and error classification.
type dialect struct {
	name            string
	schema          []string
	insert          string
	selectAll       string
	selectOne       string
	selectForUpdate string
	update          string
	isDuplicate     func(error) bool
	// serializeWrites guards mutations with an in-process mutex on top of the database lock.
	serializeWrites bool
}

// SQLStore persists records in a relational table.
type SQLStore struct {
	db      *DB
	d       dialect
	writeMu sync.Mutex
}

func newSQLStore(ctx context.Context, db *DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.Client.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
		}
	}
	return &SQLStore{db: db, d: d}, nil
}

// Ping verifies connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.Client.PingContext(ctx)
}

func (s *SQLStore) LoadAll(ctx context.Context) ([]attendance.Record, error) {
	rows, err := s.db.Client.QueryContext(ctx, s.d.selectAll)
	if err != nil {
		return nil, attendance.Unavailable(s.d.name+": load", err)
	}
	defer rows.Close()

	records := []attendance.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, attendance.Unavailable(s.d.name+": scan", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, attendance.Unavailable(s.d.name+": load", err)
	}
	return records, nil
}

func (s *SQLStore) ListAll(ctx context.Context) ([]attendance.Record, error) {
	return s.LoadAll(ctx)
}

func (s *SQLStore) FindByCode(ctx context.Context, code string) (attendance.Record, error) {
	rec, err := scanRecord(s.db.Client.QueryRowContext(ctx, s.d.selectOne, code))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Record{}, attendance.Unavailable(s.d.name+": find", err)
	}
	return rec, nil
}

func (s *SQLStore) Append(ctx context.Context, rec attendance.Record) error {
	if s.d.serializeWrites {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	extra, err := encodeExtra(rec.Extra)
	if err != nil {
		return err
	}
	_, err = s.db.Client.ExecContext(ctx, s.d.insert,
		rec.Code, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(), nullTime(rec.CheckOut), rec.Artifact, extra)
	if err != nil {
		if s.d.isDuplicate(err) {
			return attendance.ErrDuplicateCode
		}
		return attendance.Unavailable(s.d.name+": insert", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, code string, patch attendance.Patch) (attendance.Record, error) {
	if s.d.serializeWrites {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	tx, err := s.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Record{}, attendance.Unavailable(s.d.name+": begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, s.d.selectForUpdate, code))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Record{}, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Record{}, attendance.Unavailable(s.d.name+": lock", err)
	}
	if err := patch.Apply(&rec); err != nil {
		return attendance.Record{}, err
	}
	if _, err := tx.ExecContext(ctx, s.d.update, code, rec.UpdatedAt.UTC(), nullTime(rec.CheckOut), rec.Artifact); err != nil {
		return attendance.Record{}, attendance.Unavailable(s.d.name+": update", err)
	}
	if err := tx.Commit(); err != nil {
		return attendance.Record{}, attendance.Unavailable(s.d.name+": commit", err)
	}
	return rec, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (attendance.Record, error) {
	var (
		rec      attendance.Record
		checkOut sql.NullTime
		extra    []byte
	)
	if err := row.Scan(&rec.Code, &rec.CreatedAt, &rec.UpdatedAt, &checkOut, &rec.Artifact, &extra); err != nil {
		return attendance.Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if checkOut.Valid {
		t := checkOut.Time.UTC()
		rec.CheckOut = &t
	}
	if len(extra) > 0 && string(extra) != "null" {
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			return attendance.Record{}, fmt.Errorf("decode extra: %w", err)
		}
		if len(rec.Extra) == 0 {
			rec.Extra = nil
		}
	}
	return rec, nil
}

func encodeExtra(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
