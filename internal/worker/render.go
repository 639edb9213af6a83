// Package worker consumes render messages and stores the rendered QR artifact
// on the matching record.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
)

const (
	maxAttempts = 3
	// requeueTimeout bounds how long a failed message waits for queue space.
	requeueTimeout = 5 * time.Second
)

// Renderer is the part of the lifecycle service the worker needs.
type Renderer interface {
	RenderArtifact(ctx context.Context, code string) (attendance.Record, error)
}

// Worker drains a queue until its context is cancelled.
type Worker struct {
	q              queue.Queue
	renderer       Renderer
	log            logrus.FieldLogger
	backoff        time.Duration
	requeueTimeout time.Duration
	retries        sync.WaitGroup
}

// New creates a worker.
func New(q queue.Queue, renderer Renderer, log logrus.FieldLogger) *Worker {
	return &Worker{q: q, renderer: renderer, log: log, backoff: 200 * time.Millisecond, requeueTimeout: requeueTimeout}
}

// Run consumes messages until ctx is done. Failed renders are requeued up to
// maxAttempts times; unknown codes are dropped. Requeues happen off the
// consuming goroutine so a full queue never stops the drain.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info("render worker started")
	for msg := range messages {
		if msg.Type != attendance.MessageRender {
			continue
		}
		w.handle(ctx, msg)
	}
	w.retries.Wait()
	w.log.Info("render worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	code := string(msg.Body)
	entry := w.log.WithFields(logrus.Fields{"code": code, "message_id": msg.ID, "attempt": msg.Attempts + 1})

	_, err := w.renderer.RenderArtifact(ctx, code)
	switch {
	case err == nil:
		entry.Debug("artifact rendered")
	case errors.Is(err, attendance.ErrNotFound):
		entry.Warn("render requested for unknown code")
	case ctx.Err() != nil:
		return
	default:
		entry.WithError(err).Error("render failed")
		if msg.Attempts+1 >= maxAttempts {
			return
		}
		msg.Attempts++
		w.retries.Add(1)
		go func() {
			defer w.retries.Done()
			w.requeue(ctx, msg, entry)
		}()
	}
}

func (w *Worker) requeue(ctx context.Context, msg queue.Message, entry logrus.FieldLogger) {
	select {
	case <-time.After(w.backoff * time.Duration(msg.Attempts)):
	case <-ctx.Done():
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, w.requeueTimeout)
	defer cancel()
	if err := w.q.Publish(pubCtx, msg); err != nil && ctx.Err() == nil {
		entry.WithError(err).Error("requeue failed, message dropped")
	}
}
