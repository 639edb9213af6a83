package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"qrattend/internal/attendance"
)

// runStoreSuite checks the behaviour every backend must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) attendance.Store) {
	t.Run("empty", func(t *testing.T) {
		s := open(t)
		recs, err := s.LoadAll(context.Background())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if recs == nil || len(recs) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", recs)
		}
	})

	t.Run("append keeps insertion order", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		codes := []string{"300000", "100000", "200000"}
		for i, code := range codes {
			if err := s.Append(ctx, sampleRecord(code, i)); err != nil {
				t.Fatalf("append %s: %v", code, err)
			}
		}
		recs, err := s.ListAll(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) != len(codes) {
			t.Fatalf("expected %d records, got %d", len(codes), len(recs))
		}
		for i, code := range codes {
			if recs[i].Code != code {
				t.Fatalf("position %d: expected %s, got %s", i, code, recs[i].Code)
			}
		}
	})

	t.Run("round trip", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		want := sampleRecord("482913", 0)
		if err := s.Append(ctx, want); err != nil {
			t.Fatalf("append: %v", err)
		}
		got, err := s.FindByCode(ctx, "482913")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
			t.Fatalf("timestamps changed: %v/%v vs %v/%v", got.CreatedAt, got.UpdatedAt, want.CreatedAt, want.UpdatedAt)
		}
		if got.Artifact != want.Artifact || !got.Open() {
			t.Fatalf("unexpected record %+v", got)
		}
		if got.Extra["name"] != "Ada" {
			t.Fatalf("extra not preserved: %v", got.Extra)
		}
	})

	t.Run("duplicate code", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		if err := s.Append(ctx, sampleRecord("555555", 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.Append(ctx, sampleRecord("555555", 1)); !errors.Is(err, attendance.ErrDuplicateCode) {
			t.Fatalf("expected ErrDuplicateCode, got %v", err)
		}
		recs, _ := s.LoadAll(ctx)
		if len(recs) != 1 {
			t.Fatalf("duplicate must not be stored, got %d records", len(recs))
		}
	})

	t.Run("find missing", func(t *testing.T) {
		if _, err := open(t).FindByCode(context.Background(), "999999"); !errors.Is(err, attendance.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		rec := sampleRecord("777777", 0)
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		at := rec.CreatedAt.Add(time.Hour)
		got, err := s.Update(ctx, "777777", attendance.Patch{CheckOut: true, RequireOpen: true, At: at})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.CheckOut == nil || !got.CheckOut.Equal(at) || !got.UpdatedAt.Equal(at) {
			t.Fatalf("unexpected updated record %+v", got)
		}
		stored, err := s.FindByCode(ctx, "777777")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if stored.CheckOut == nil || !stored.CheckOut.Equal(at) {
			t.Fatalf("update not persisted: %+v", stored)
		}
		if !stored.CreatedAt.Equal(rec.CreatedAt) || stored.Extra["name"] != "Ada" {
			t.Fatalf("update touched other fields: %+v", stored)
		}

		_, err = s.Update(ctx, "777777", attendance.Patch{CheckOut: true, RequireOpen: true, At: at.Add(time.Hour)})
		if !errors.Is(err, attendance.ErrAlreadyCheckedOut) {
			t.Fatalf("expected ErrAlreadyCheckedOut, got %v", err)
		}
		again, _ := s.FindByCode(ctx, "777777")
		if !again.UpdatedAt.Equal(at) {
			t.Fatalf("rejected update must not persist, updatedAt=%v", again.UpdatedAt)
		}
	})

	t.Run("update artifact", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		rec := sampleRecord("888888", 0)
		rec.Artifact = ""
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		art := "data:image/png;base64,Zm9v"
		got, err := s.Update(ctx, "888888", attendance.Patch{Artifact: &art, At: rec.CreatedAt})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Artifact != art || !got.UpdatedAt.After(rec.UpdatedAt) || !got.Open() {
			t.Fatalf("unexpected record %+v", got)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		if err := s.Append(ctx, sampleRecord("121212", 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := s.Update(ctx, "999999", attendance.Patch{CheckOut: true}); !errors.Is(err, attendance.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		recs, _ := s.LoadAll(ctx)
		if len(recs) != 1 || !recs[0].Open() {
			t.Fatalf("collection changed: %+v", recs)
		}
	})

	t.Run("concurrent mutations", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		const n = 16
		for i := 0; i < n; i++ {
			if err := s.Append(ctx, sampleRecord(fmt.Sprintf("4000%02d", i), i)); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				if err := s.Append(ctx, sampleRecord(fmt.Sprintf("5000%02d", i), i)); err != nil {
					t.Errorf("append: %v", err)
				}
			}(i)
			go func(i int) {
				defer wg.Done()
				if _, err := s.Update(ctx, fmt.Sprintf("4000%02d", i), attendance.Patch{CheckOut: true, RequireOpen: true}); err != nil {
					t.Errorf("update: %v", err)
				}
			}(i)
		}
		wg.Wait()

		recs, err := s.LoadAll(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(recs) != 2*n {
			t.Fatalf("expected %d records, got %d", 2*n, len(recs))
		}
		for _, r := range recs {
			if r.Code[0] == '4' && r.Open() {
				t.Fatalf("lost checkout on %s", r.Code)
			}
			if r.Code[0] == '5' && !r.Open() {
				t.Fatalf("unexpected checkout on %s", r.Code)
			}
		}
	})

	t.Run("racing duplicate appends", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.Append(ctx, sampleRecord("909090", i))
				switch {
				case err == nil:
					mu.Lock()
					wins++
					mu.Unlock()
				case !errors.Is(err, attendance.ErrDuplicateCode):
					t.Errorf("append: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one append to win, got %d", wins)
		}
	})
}

func sampleRecord(code string, offset int) attendance.Record {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
	return attendance.Record{
		Code:      code,
		CreatedAt: at,
		UpdatedAt: at,
		Artifact:  "data:image/png;base64,AAAA",
		Extra:     map[string]any{"name": "Ada"},
	}
}
