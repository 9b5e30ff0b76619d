// Package archive keeps a copy of every published issue in a local
// directory or an S3 bucket. Archiving is best effort: a failure is logged
// and never affects publishing.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("archive: object not found")

// BlobStore stores opaque objects by key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config holds configuration for the archive backend.
type Config struct {
	Type       string // "", "local" or "s3"
	Path       string // base directory for local store
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// Content is what gets archived for one issue.
type Content struct {
	Title string
	HTML  string
	Text  string
}

// Archiver writes issues to a BlobStore. A nil *Archiver is valid and
// archives nothing.
type Archiver struct {
	store BlobStore
	log   zerolog.Logger
}

// NewArchiver wraps store.
func NewArchiver(store BlobStore, log zerolog.Logger) *Archiver {
	return &Archiver{store: store, log: log}
}

// New builds the Archiver selected by cfg.Type. An empty type disables
// archiving and returns nil.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Archiver, error) {
	var (
		store BlobStore
		err   error
	)
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		store, err = NewLocalStore(cfg.Path)
	case "s3":
		store, err = NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewArchiver(store, log), nil
}

// HTMLKey and TextKey name the archived objects of an issue.
func HTMLKey(id uuid.UUID) string { return "issues/" + id.String() + ".html" }
func TextKey(id uuid.UUID) string { return "issues/" + id.String() + ".txt" }

// Archive stores the html and text bodies of issue id. Errors are logged.
func (a *Archiver) Archive(ctx context.Context, id uuid.UUID, c Content) {
	if a == nil {
		return
	}

	log := a.log.With().Str("newsletter_issue_id", id.String()).Logger()
	if err := a.store.Put(ctx, HTMLKey(id), "text/html; charset=utf-8", []byte(c.HTML)); err != nil {
		log.Warn().Err(err).Msg("failed to archive issue html")
		return
	}
	if err := a.store.Put(ctx, TextKey(id), "text/plain; charset=utf-8", []byte(c.Text)); err != nil {
		log.Warn().Err(err).Msg("failed to archive issue text")
		return
	}
	log.Debug().Str("title", c.Title).Msg("issue archived")
}

// HTML returns the archived html body of issue id.
func (a *Archiver) HTML(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if a == nil {
		return nil, ErrNotFound
	}
	return a.store.Get(ctx, HTMLKey(id))
}
