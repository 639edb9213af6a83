package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"qrattend/internal/artifact"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/logging"
	"qrattend/internal/netutil"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

// Worker consumes render messages from Redis and stores the QR artifact on each record.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.Production(), File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}
	if cfg.StoreBackend == "file" {
		log.Warn("file store is not shared safely across processes; run the worker against postgres, sqlite or redis")
	}

	if cfg.BaseURL == "" {
		log.Warn("BASE_URL not set; QR codes will point at this host's address, not the api's")
	}

	records, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer records.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warnf("redis at %s not reachable yet, consumer will keep retrying", cfg.RedisAddr)
	}

	enc, err := artifact.NewQREncoder(artifact.Options{
		Width:  cfg.QRWidth,
		Margin: cfg.QRMargin,
		Dark:   cfg.QRDark,
		Light:  cfg.QRLight,
	})
	if err != nil {
		log.Fatalf("encoder: %v", err)
	}

	att := attendance.NewService(records, attendance.RandomGenerator{}, enc, attendance.Options{
		BaseURL: netutil.BaseURL(cfg.BaseURL, cfg.HTTPPort),
		Policy:  attendance.CheckoutPolicy(cfg.CheckoutPolicy),
	}, log)

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	if pending, err := q.Len(ctx); err == nil {
		log.WithField("pending", pending).Info("render queue backlog")
	}
	if err := worker.New(q, att, log.WithField("component", "worker")).Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
}
