package store

import (
	"context"
	"errors"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
)

// Instrumented records latency for every store operation.
type Instrumented struct {
	next    attendance.Store
	backend string
}

// Instrument wraps s with prometheus timing under the given backend label.
func Instrument(backend string, s attendance.Store) *Instrumented {
	return &Instrumented{next: s, backend: backend}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, attendance.ErrNotFound):
		result = "not_found"
	case errors.Is(err, attendance.ErrDuplicateCode):
		result = "duplicate"
	case errors.Is(err, attendance.ErrAlreadyCheckedOut):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.StoreOpDuration.WithLabelValues(i.backend, op, result).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) LoadAll(ctx context.Context) (recs []attendance.Record, err error) {
	defer func(start time.Time) { i.observe("load_all", start, err) }(time.Now())
	return i.next.LoadAll(ctx)
}

func (i *Instrumented) Append(ctx context.Context, rec attendance.Record) (err error) {
	defer func(start time.Time) { i.observe("append", start, err) }(time.Now())
	return i.next.Append(ctx, rec)
}

func (i *Instrumented) FindByCode(ctx context.Context, code string) (rec attendance.Record, err error) {
	defer func(start time.Time) { i.observe("find", start, err) }(time.Now())
	return i.next.FindByCode(ctx, code)
}

func (i *Instrumented) Update(ctx context.Context, code string, patch attendance.Patch) (rec attendance.Record, err error) {
	defer func(start time.Time) { i.observe("update", start, err) }(time.Now())
	return i.next.Update(ctx, code, patch)
}

func (i *Instrumented) ListAll(ctx context.Context) (recs []attendance.Record, err error) {
	defer func(start time.Time) { i.observe("list_all", start, err) }(time.Now())
	return i.next.ListAll(ctx)
}

func (i *Instrumented) Close() error { return i.next.Close() }

// Ping forwards to the wrapped store when it supports health checks.
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.next.(attendance.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
