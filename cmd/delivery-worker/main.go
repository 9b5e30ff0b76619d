package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/newsletter-relay/internal/config"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/mail"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/queue"
	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting delivery worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection pool.
	db, err := storage.NewDB(ctx, storage.PoolOptions{
		URL:             cfg.Database.URL,
		MinConns:        cfg.Database.PoolMin,
		MaxConns:        cfg.Database.PoolMax,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		ApplicationName: "delivery-worker",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	mailClient, err := mail.New(mail.Config{
		Provider:           cfg.Mail.Provider,
		BaseURL:            cfg.Mail.BaseURL,
		Sender:             cfg.Mail.Sender,
		AuthorizationToken: cfg.Mail.AuthorizationToken,
		Timeout:            cfg.Mail.Timeout,
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mail client")
	}

	// Wake-ups are optional; without Redis workers poll only.
	var wake <-chan struct{}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		wake, err = queue.NewNotifier(redisClient, cfg.Redis.WakeupChannel, log).Subscribe(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to subscribe to wake-ups, polling only")
			wake = nil
		}
	}

	q := queue.New(db.Pool)
	handler := worker.NewHandler(issue.NewRepository(db.Pool), mailClient, log)

	queueCfg := queue.DefaultConfig()
	if cfg.Worker.Count > 0 {
		queueCfg.WorkerCount = cfg.Worker.Count
	}
	if cfg.Worker.PollInterval > 0 {
		queueCfg.PollInterval = cfg.Worker.PollInterval
	}
	if cfg.Worker.ErrorBackoff > 0 {
		queueCfg.ErrorBackoff = cfg.Worker.ErrorBackoff
	}
	if cfg.Worker.ShutdownTimeout > 0 {
		queueCfg.ShutdownTimeout = cfg.Worker.ShutdownTimeout
	}

	// Each in-flight job holds one connection until it finishes.
	if int32(queueCfg.WorkerCount) > db.MaxConns() {
		log.Warn().
			Int("workers", queueCfg.WorkerCount).
			Int32("pool_max", db.MaxConns()).
			Msg("more workers than database connections, extra workers will wait for a connection")
	}

	pool := queue.NewPool(q, handler, queueCfg, wake, log)
	pool.Start(ctx)

	go q.SampleDepth(ctx, 15*time.Second, log)

	var metricsSrv *http.Server
	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	log.Info().
		Int("workers", queueCfg.WorkerCount).
		Str("mail_provider", mailClient.Name()).
		Msg("delivery worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down delivery worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), queueCfg.ShutdownTimeout)
	defer cancel()

	pool.Stop(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info().Msg("delivery worker stopped")
}
