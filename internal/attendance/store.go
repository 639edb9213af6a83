package attendance

import (
	"context"
	"time"
)

// Store is the durable, authoritative holder of attendance records.
// Append and Update are linearizable with respect to each other; LoadAll and
// ListAll observe the last fully committed snapshot.
type Store interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, rec Record) error
	FindByCode(ctx context.Context, code string) (Record, error)
	Update(ctx context.Context, code string, patch Patch) (Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	Close() error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Patch is a partial update applied inside a store's critical section.
type Patch struct {
	// CheckOut stamps the record's checkout time with the update time.
	CheckOut bool
	// Artifact replaces the cached artifact when non-nil.
	Artifact *string
	// RequireOpen rejects the patch with ErrAlreadyCheckedOut on terminal records.
	RequireOpen bool
	// At is the clock reading for the update; zero means now.
	At time.Time
}

// Apply mutates rec in place. UpdatedAt is always refreshed and never moves
// backwards, so it is strictly later than the previous value.
func (p Patch) Apply(rec *Record) error {
	if p.RequireOpen && !rec.Open() {
		return ErrAlreadyCheckedOut
	}
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	at = Stamp(at)
	if !at.After(rec.UpdatedAt) {
		at = Stamp(rec.UpdatedAt).Add(time.Millisecond)
	}
	if p.CheckOut {
		t := at
		rec.CheckOut = &t
	}
	if p.Artifact != nil {
		rec.Artifact = *p.Artifact
	}
	rec.UpdatedAt = at
	return nil
}
