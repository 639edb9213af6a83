package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"qrattend/internal/artifact"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/httpapi"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
	"qrattend/internal/netutil"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.Production(), File: cfg.LogFile})

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer records.Close()

	enc, err := artifact.NewQREncoder(artifact.Options{
		Width:  cfg.QRWidth,
		Margin: cfg.QRMargin,
		Dark:   cfg.QRDark,
		Light:  cfg.QRLight,
	})
	if err != nil {
		return err
	}

	baseURL := netutil.BaseURL(cfg.BaseURL, cfg.HTTPPort)
	att := attendance.NewService(records, attendance.RandomGenerator{}, enc, attendance.Options{
		BaseURL:         baseURL,
		Policy:          attendance.CheckoutPolicy(cfg.CheckoutPolicy),
		MaxCodeAttempts: cfg.MaxCodeAttempts,
		AsyncArtifacts:  cfg.ArtifactAsync,
	}, log)

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	if cfg.ArtifactAsync {
		var q queue.Queue
		if redisClient != nil {
			// rendering happens in cmd/worker
			q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
		} else {
			mem := queue.NewInMemory(256)
			q = mem
			go func() {
				if err := worker.New(mem, att, log.WithField("component", "worker")).Run(ctx); err != nil {
					log.WithError(err).Error("in-process render worker stopped")
				}
			}()
		}
		att.WithPublisher(q)
		log.WithField("queue", cfg.QueueBackend).Info("asynchronous artifact rendering enabled")
	}

	health := func(ctx context.Context) map[string]bool {
		deps := map[string]bool{"store": records.Ping(ctx) == nil}
		if redisClient != nil {
			deps["redis"] = redisClient.Healthy(ctx)
		}
		return deps
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.RequestLog(log, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", httpmiddleware.RequestIDHeader},
		ExposeHeaders:   []string{httpmiddleware.RequestIDHeader},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(limiter.Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	httpapi.New(att, health, log).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("base_url", baseURL).Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}

	log.Info("server exited")
	return nil
}

// securityHeaders sets conservative browser security headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
