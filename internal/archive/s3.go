package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store stores objects in an S3-compatible bucket.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store creates an S3Store with the given client, bucket and key prefix.
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromConfig builds a real S3 client. A custom S3Endpoint (MinIO,
// LocalStack) switches to path-style addressing.
func NewS3StoreFromConfig(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("archive: s3_bucket is required")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3OptFns []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	return NewS3Store(s3.NewFromConfig(awsCfg, s3OptFns...), cfg.S3Bucket, cfg.S3Prefix), nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	k := s.prefix + key
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &k,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put: %w", err)
	}
	return nil
}

// Get returns ErrNotFound if the object does not exist.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	k := s.prefix + key
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &k,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: s3 read body: %w", err)
	}
	return data, nil
}
