package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/redis/go-redis/v9"

	"github.com/sungwon/newsletter-relay/internal/archive"
	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/config"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/queue"
	smtpserver "github.com/sungwon/newsletter-relay/internal/smtp"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

func main() {
	// Load configuration from the "config" directory.
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
	log.Info().Msg("starting SMTP server")

	// Initialize database connection pool.
	ctx := context.Background()
	db, err := storage.NewDB(ctx, storage.PoolOptions{
		URL:             cfg.Database.URL,
		MinConns:        cfg.Database.PoolMin,
		MaxConns:        cfg.Database.PoolMax,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		ApplicationName: "smtp-server",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	queries := storage.New(db.Pool)

	var (
		limiter  *auth.LoginLimiter
		notifier publish.Notifier
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		limiter = auth.NewLoginLimiter(redisClient, auth.LoginLimitConfig{
			AttemptsLimit:   cfg.Auth.LoginAttemptsLimit,
			LockoutDuration: cfg.Auth.LoginLockoutDuration,
		})
		notifier = queue.NewNotifier(redisClient, cfg.Redis.WakeupChannel, log)
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

	publisher := publish.NewService(
		idempotency.NewStore(db.Pool),
		issue.NewRepository(db.Pool),
		notifier,
		archiver,
		publish.Config{
			RaceRetries:    cfg.Idempotency.RaceRetries,
			RaceRetryDelay: cfg.Idempotency.RaceRetryDelay,
		},
		log,
	)

	// Create SMTP backend with connection limit.
	backend := smtpserver.NewBackend(
		auth.NewAuthenticator(queries, limiter, log),
		publisher,
		cfg.SMTP.PublishAddress,
		log,
		cfg.SMTP.MaxConnections,
	)

	s := gosmtp.NewServer(backend)
	s.Addr = fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	s.Domain = cfg.SMTP.Domain
	s.ReadTimeout = cfg.SMTP.ReadTimeout
	s.WriteTimeout = cfg.SMTP.WriteTimeout
	s.MaxMessageBytes = cfg.SMTP.MaxMessageSize
	s.MaxRecipients = 1
	s.AllowInsecureAuth = false

	// Configure TLS if certificates are provided.
	if cfg.SMTP.CertFile != "" && cfg.SMTP.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SMTP.CertFile, cfg.SMTP.KeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		s.EnableSMTPUTF8 = true
	} else {
		log.Warn().Msg("no TLS certificate configured; accepting AUTH PLAIN over plaintext")
		s.AllowInsecureAuth = true
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", s.Addr).Msg("failed to listen")
	}

	go func() {
		log.Info().
			Str("addr", s.Addr).
			Str("publish_address", cfg.SMTP.PublishAddress).
			Msg("SMTP server listening")
		if err := s.Serve(ln); err != nil {
			log.Error().Err(err).Msg("SMTP server error")
		}
	}()

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down SMTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("SMTP server shutdown error")
	}

	log.Info().Msg("SMTP server stopped")
}
