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

	"github.com/sungwon/newsletter-relay/internal/api"
	"github.com/sungwon/newsletter-relay/internal/archive"
	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/bootstrap"
	"github.com/sungwon/newsletter-relay/internal/config"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/mail"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/queue"
	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/internal/subscription"
	"github.com/sungwon/newsletter-relay/migrations"
)

const defaultSigningKey = "change-me-in-production-use-a-strong-secret"

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := storage.NewDB(ctx, storage.PoolOptions{
		URL:             cfg.Database.URL,
		MinConns:        cfg.Database.PoolMin,
		MaxConns:        cfg.Database.PoolMax,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		ApplicationName: "api-server",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connection established")

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, db.Pool, migrations.FS); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	queries := storage.New(db.Pool)

	if err := bootstrap.SeedAdmin(ctx, queries, log, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin user")
	}

	// Redis is optional: without it logins are not rate limited and workers
	// rely on polling alone.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()
	} else {
		log.Warn().Msg("redis not configured; login lockout and worker wake-ups disabled")
	}

	archiver, err := archive.New(ctx, archive.Config{
		Type:       cfg.Archive.Type,
		Path:       cfg.Archive.Path,
		S3Bucket:   cfg.Archive.S3Bucket,
		S3Prefix:   cfg.Archive.S3Prefix,
		S3Endpoint: cfg.Archive.S3Endpoint,
		S3Region:   cfg.Archive.S3Region,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize archive")
	}

	var notifier publish.Notifier
	if redisClient != nil {
		notifier = queue.NewNotifier(redisClient, cfg.Redis.WakeupChannel, log)
	}

	issues := issue.NewRepository(db.Pool)
	publisher := publish.NewService(
		idempotency.NewStore(db.Pool),
		issues,
		notifier,
		archiver,
		publish.Config{
			RaceRetries:    cfg.Idempotency.RaceRetries,
			RaceRetryDelay: cfg.Idempotency.RaceRetryDelay,
		},
		log,
	)

	// Initialize JWT service
	if cfg.Auth.SigningKey == "" || cfg.Auth.SigningKey == defaultSigningKey {
		log.Warn().Msg("JWT signing key is not set or using default value; set NEWSLETTER_AUTH_SIGNING_KEY in production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		Expiry:     cfg.Auth.TokenExpiry,
	})

	var limiter *auth.LoginLimiter
	if redisClient != nil {
		limiter = auth.NewLoginLimiter(redisClient, auth.LoginLimitConfig{
			AttemptsLimit:   cfg.Auth.LoginAttemptsLimit,
			LockoutDuration: cfg.Auth.LoginLockoutDuration,
		})
	}
	authenticator := auth.NewAuthenticator(queries, limiter, log)

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
	subscriptions := subscription.NewService(db.Pool, queries, mailClient, cfg.API.BaseURL, log)

	router := api.NewRouter(api.Deps{
		DB:            db,
		Authenticator: authenticator,
		JWT:           jwtService,
		TokenExpiry:   cfg.Auth.TokenExpiry,
		Subscriptions: subscriptions,
		Publisher:     publisher,
		Issues:        issues,
		Pending:       queue.New(db.Pool),
		Log:           log,
	})

	go observePool(ctx, db)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func observePool(ctx context.Context, db *storage.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		metrics.ObservePool(db.Pool.Stat())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
