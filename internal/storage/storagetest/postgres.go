//go:build integration

// Package storagetest starts a disposable PostgreSQL container with the
// schema applied, for integration tests across packages.
package storagetest

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/migrations"
)

// Postgres is a running container plus a migrated pool connected to it.
type Postgres struct {
	DB        *storage.DB
	DSN       string
	container testcontainers.Container
}

// Start launches postgres:15-alpine and applies the embedded migrations.
func Start(ctx context.Context) (*Postgres, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())
	db, err := storage.NewDB(ctx, storage.PoolOptions{
		URL:             dsn,
		MinConns:        2,
		MaxConns:        20,
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "storagetest",
	})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := storage.Migrate(ctx, db.Pool, migrations.FS); err != nil {
		db.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &Postgres{DB: db, DSN: dsn, container: container}, nil
}

// Truncate empties every table so tests sharing a container start clean.
func (p *Postgres) Truncate(ctx context.Context) error {
	_, err := p.DB.Pool.Exec(ctx, `TRUNCATE issue_delivery_queue, newsletter_issues,
		idempotency, subscription_tokens, subscriptions, users CASCADE`)
	return err
}

// Close releases the pool and terminates the container.
func (p *Postgres) Close(ctx context.Context) {
	p.DB.Close()
	_ = p.container.Terminate(ctx)
}
