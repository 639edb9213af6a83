package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// CheckoutPolicy decides what happens when a checked-out record is checked out again.
type CheckoutPolicy string

const (
	// PolicyReject fails repeated checkouts with ErrAlreadyCheckedOut.
	PolicyReject CheckoutPolicy = "reject"
	// PolicyOverwrite restamps checkOut and updatedAt on every call.
	PolicyOverwrite CheckoutPolicy = "overwrite"
)

// MessageRender asks a worker to render and store the artifact for the code in the body.
const MessageRender = "render"

// Encoder turns a URL into an opaque image payload.
type Encoder interface {
	Encode(ctx context.Context, url string) (string, error)
}

// Publisher hands messages to asynchronous consumers.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options tunes the lifecycle controller.
type Options struct {
	BaseURL         string
	Policy          CheckoutPolicy
	MaxCodeAttempts int
	// AsyncArtifacts defers artifact rendering to a worker via the Publisher.
	AsyncArtifacts bool
	// PublishTimeout bounds the wait for queue space after a check-in is stored.
	PublishTimeout time.Duration
}

// Service applies check-in and check-out transitions on top of a Store.
type Service struct {
	store Store
	gen   Generator
	enc   Encoder
	pub   Publisher
	opts  Options
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, gen Generator, enc Encoder, opts Options, log logrus.FieldLogger) *Service {
	if gen == nil {
		gen = RandomGenerator{}
	}
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = 10
	}
	if opts.Policy == "" {
		opts.Policy = PolicyReject
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, gen: gen, enc: enc, opts: opts, log: log, now: time.Now}
}

// WithPublisher sets the publisher used for asynchronous artifact rendering.
func (s *Service) WithPublisher(pub Publisher) *Service {
	s.pub = pub
	return s
}

// WithClock replaces the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ArtifactURL is the URL embedded in a code's QR image.
func (s *Service) ArtifactURL(code string) string {
	return s.opts.BaseURL + "/api/attendance/" + code
}

// CheckIn creates a new open record with a fresh code. Colliding codes are
// regenerated up to MaxCodeAttempts times.
func (s *Service) CheckIn(ctx context.Context, extra map[string]any) (Record, error) {
	fields, err := NormalizeExtra(extra)
	if err != nil {
		return Record{}, err
	}
	async := s.opts.AsyncArtifacts && s.pub != nil

	for attempt := 1; attempt <= s.opts.MaxCodeAttempts; attempt++ {
		code := s.gen.Generate()

		var artifact string
		if !async {
			artifact, err = s.encode(ctx, code)
			metrics.ArtifactRenders.WithLabelValues("sync", resultLabel(err)).Inc()
			if err != nil {
				return Record{}, err
			}
		}

		now := Stamp(s.now())
		rec := Record{
			Code:      code,
			CreatedAt: now,
			UpdatedAt: now,
			Artifact:  artifact,
			Extra:     fields,
		}
		err = s.store.Append(ctx, rec)
		if errors.Is(err, ErrDuplicateCode) {
			metrics.CodeCollisions.Inc()
			s.log.WithFields(logrus.Fields{"code": code, "attempt": attempt}).Debug("code collision, regenerating")
			continue
		}
		if err != nil {
			return Record{}, err
		}
		metrics.CheckIns.Inc()

		if async {
			s.publishRender(ctx, code)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("%w: no free code after %d attempts", ErrDuplicateCode, s.opts.MaxCodeAttempts)
}

// CheckOut applies the terminal transition to the record with the given code.
func (s *Service) CheckOut(ctx context.Context, code string) (Record, error) {
	rec, err := s.store.Update(ctx, code, Patch{
		CheckOut:    true,
		RequireOpen: s.opts.Policy == PolicyReject,
		At:          s.now(),
	})
	switch {
	case err == nil:
		metrics.CheckOuts.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.CheckOuts.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrAlreadyCheckedOut):
		metrics.CheckOuts.WithLabelValues("already_checked_out").Inc()
	default:
		metrics.CheckOuts.WithLabelValues("error").Inc()
	}
	return rec, err
}

// Find returns the record with the given code.
func (s *Service) Find(ctx context.Context, code string) (Record, error) {
	return s.store.FindByCode(ctx, code)
}

// List returns every record in insertion order.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.store.ListAll(ctx)
}

// Artifact returns the stored artifact for code, rendering it if the cache is empty.
// A freshly rendered artifact is not persisted.
func (s *Service) Artifact(ctx context.Context, code string) (string, error) {
	rec, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if rec.Artifact != "" {
		return rec.Artifact, nil
	}
	artifact, err := s.encode(ctx, code)
	metrics.ArtifactRenders.WithLabelValues("on_demand", resultLabel(err)).Inc()
	return artifact, err
}

// RenderArtifact renders the artifact for code and stores it in the record.
// Records that already carry an artifact are returned unchanged.
func (s *Service) RenderArtifact(ctx context.Context, code string) (Record, error) {
	rec, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return Record{}, err
	}
	if rec.Artifact != "" {
		return rec, nil
	}
	artifact, err := s.encode(ctx, code)
	metrics.ArtifactRenders.WithLabelValues("async", resultLabel(err)).Inc()
	if err != nil {
		return Record{}, err
	}
	return s.store.Update(ctx, code, Patch{Artifact: &artifact, At: s.now()})
}

// publishRender queues a render for code. Failures only log: the record stands
// and the artifact endpoint renders on demand.
func (s *Service) publishRender(ctx context.Context, code string) {
	pubCtx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()
	if err := s.pub.Publish(pubCtx, queue.Message{Type: MessageRender, Body: []byte(code)}); err != nil {
		metrics.ArtifactRenders.WithLabelValues("async", "dropped").Inc()
		s.log.WithError(err).WithField("code", code).Warn("render publish failed")
	}
}

func (s *Service) encode(ctx context.Context, code string) (string, error) {
	if s.enc == nil {
		return "", fmt.Errorf("%w: no encoder configured", ErrEncodingFailure)
	}
	out, err := s.enc.Encode(ctx, s.ArtifactURL(code))
	if err != nil {
		if errors.Is(err, ErrEncodingFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return out, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
