package attendance

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the ISO-8601 form used for every persisted timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	MaxExtraFields    = 32
	MaxExtraKeyLen    = 64
	MaxExtraValueSize = 1024
)

// reserved keys belong to the fixed part of a record and are never taken from callers.
var reserved = map[string]bool{
	"code":      true,
	"qrCode":    true,
	"createdAt": true,
	"updatedAt": true,
	"checkOut":  true,
}

// Record is one attendance entry keyed by Code.
type Record struct {
	Code      string
	CreatedAt time.Time
	UpdatedAt time.Time
	CheckOut  *time.Time
	// Artifact is the QR image as a data URL. It is a cache derived from Code.
	Artifact string
	Extra    map[string]any
}

// Open reports whether the record has not been checked out yet.
func (r Record) Open() bool { return r.CheckOut == nil }

// Clone returns a deep enough copy for callers to mutate safely.
func (r Record) Clone() Record {
	out := r
	if r.CheckOut != nil {
		t := *r.CheckOut
		out.CheckOut = &t
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Stamp normalizes t to the persisted precision.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// MarshalJSON flattens Extra into the top-level object next to the fixed fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		if !reserved[k] {
			out[k] = v
		}
	}
	out["code"] = r.Code
	out["createdAt"] = r.CreatedAt.UTC().Format(TimeLayout)
	out["updatedAt"] = r.UpdatedAt.UTC().Format(TimeLayout)
	if r.Artifact != "" {
		out["qrCode"] = r.Artifact
	}
	if r.CheckOut != nil {
		out["checkOut"] = r.CheckOut.UTC().Format(TimeLayout)
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var rec Record
	if v, ok := raw["code"]; ok {
		if err := json.Unmarshal(v, &rec.Code); err != nil {
			return fmt.Errorf("code: %w", err)
		}
	}
	if v, ok := raw["qrCode"]; ok {
		if err := json.Unmarshal(v, &rec.Artifact); err != nil {
			return fmt.Errorf("qrCode: %w", err)
		}
	}
	var err error
	if rec.CreatedAt, err = parseTime(raw, "createdAt"); err != nil {
		return err
	}
	if rec.UpdatedAt, err = parseTime(raw, "updatedAt"); err != nil {
		return err
	}
	if _, ok := raw["checkOut"]; ok {
		t, err := parseTime(raw, "checkOut")
		if err != nil {
			return err
		}
		if !t.IsZero() {
			rec.CheckOut = &t
		}
	}
	for k, v := range raw {
		if reserved[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = val
	}
	*r = rec
	return nil
}

func parseTime(raw map[string]json.RawMessage, key string) (time.Time, error) {
	v, ok := raw[key]
	if !ok {
		return time.Time{}, nil
	}
	var s *string
	if err := json.Unmarshal(v, &s); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t.UTC(), nil
}

// NormalizeExtra drops reserved keys and enforces the bounds on caller-supplied fields.
func NormalizeExtra(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if reserved[k] {
			continue
		}
		if k == "" || len(k) > MaxExtraKeyLen {
			return nil, fmt.Errorf("%w: key %q must be 1-%d bytes", ErrInvalidExtra, k, MaxExtraKeyLen)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidExtra, k, err)
		}
		if len(encoded) > MaxExtraValueSize {
			return nil, fmt.Errorf("%w: value of %q exceeds %d bytes", ErrInvalidExtra, k, MaxExtraValueSize)
		}
		out[k] = v
	}
	if len(out) > MaxExtraFields {
		return nil, fmt.Errorf("%w: at most %d fields allowed, got %d", ErrInvalidExtra, MaxExtraFields, len(out))
	}
	return out, nil
}
