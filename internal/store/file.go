package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"qrattend/internal/attendance"
)

// FileStore keeps the whole collection as a JSON array in a single file.
// Mutations hold mu across load-modify-store; writes replace the file by
// rename so unlocked readers always see a complete document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens path, creating it with an empty collection if absent.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, attendance.Unavailable("file: mkdir", err)
		}
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, attendance.Unavailable("file: stat", err)
	}
	return s, nil
}

func (s *FileStore) LoadAll(ctx context.Context) ([]attendance.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, attendance.Unavailable("file: read", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []attendance.Record{}, nil
	}
	var records []attendance.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, attendance.Unavailable("file: parse", err)
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return records, nil
}

func (s *FileStore) ListAll(ctx context.Context) ([]attendance.Record, error) {
	return s.LoadAll(ctx)
}

func (s *FileStore) FindByCode(ctx context.Context, code string) (attendance.Record, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return attendance.Record{}, err
	}
	if i := indexOf(records, code); i >= 0 {
		return records[i], nil
	}
	return attendance.Record{}, attendance.ErrNotFound
}

func (s *FileStore) Append(ctx context.Context, rec attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.LoadAll(ctx)
	if err != nil {
		return err
	}
	if indexOf(records, rec.Code) >= 0 {
		return attendance.ErrDuplicateCode
	}
	return s.write(append(records, rec.Clone()))
}

func (s *FileStore) Update(ctx context.Context, code string, patch attendance.Patch) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.LoadAll(ctx)
	if err != nil {
		return attendance.Record{}, err
	}
	i := indexOf(records, code)
	if i < 0 {
		return attendance.Record{}, attendance.ErrNotFound
	}
	rec := records[i]
	if err := patch.Apply(&rec); err != nil {
		return attendance.Record{}, err
	}
	records[i] = rec
	if err := s.write(records); err != nil {
		return attendance.Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Close() error { return nil }

// write replaces the file atomically. Callers hold mu, except during construction.
func (s *FileStore) write(records []attendance.Record) error {
	if records == nil {
		records = []attendance.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return attendance.Unavailable("file: create temp", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return attendance.Unavailable("file: chmod", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return attendance.Unavailable("file: write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return attendance.Unavailable("file: sync", err)
	}
	if err := tmp.Close(); err != nil {
		return attendance.Unavailable("file: close", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return attendance.Unavailable("file: rename", err)
	}
	return nil
}

func indexOf(records []attendance.Record, code string) int {
	for i := range records {
		if records[i].Code == code {
			return i
		}
	}
	return -1
}
