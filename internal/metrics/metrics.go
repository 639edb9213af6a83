package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts records created.
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_checkins_total",
		Help: "Attendance records created by check-in.",
	})

	// CheckOuts counts checkout attempts by result (ok, not_found, already_checked_out, error).
	CheckOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_checkouts_total",
		Help: "Checkout attempts by result.",
	}, []string{"result"})

	// CodeCollisions counts generated codes rejected by the store as duplicates.
	CodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_code_collisions_total",
		Help: "Generated codes that collided with an existing record.",
	})

	// ArtifactRenders counts QR renders by mode (sync, async, on_demand) and result.
	ArtifactRenders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_artifact_renders_total",
		Help: "QR artifact renders by mode and result.",
	}, []string{"mode", "result"})

	// StoreOpDuration observes record store latency per backend and operation.
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendance_store_op_duration_seconds",
		Help:    "Record store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op", "result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter.",
	})

	// HTTPRequests counts served requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
)
