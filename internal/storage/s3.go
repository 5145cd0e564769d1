package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awshttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

// BlobStore wraps an S3-compatible object store holding submission images.
// Objects are written under submissions/{session_id}/{random}.{ext} and are
// never served directly: readers always go through short-lived presigned URLs.
type BlobStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     zerolog.Logger
}

// NewBlobStore builds an S3 client from static credentials. A custom endpoint
// (MinIO, Yandex, DO Spaces, ...) switches the client to that host; path-style
// addressing is needed for most self-hosted stores.
func NewBlobStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &BlobStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3Bucket,
		log:     log.With().Str("component", "blob_store").Logger(),
	}, nil
}

// ObjectKey derives the storage key for a new submission image. The original
// filename only contributes its extension; the name itself is discarded so
// students cannot influence key layout.
func ObjectKey(sessionID uuid.UUID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("submissions/%s/%s%s", sessionID, uuid.New(), ext)
}

// Put uploads one object and returns nothing beyond the error: the caller
// already owns the key via ObjectKey.
func (b *BlobStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	b.log.Debug().Str("key", key).Int64("size", size).Msg("Object stored")
	return nil
}

// Delete removes an object. Missing keys are not an error — the store is
// eventually consistent with the database and a second delete may race.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is present without fetching its body.
func (b *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

// PresignGet returns a time-limited GET URL for one object. The grading
// oracle and the review UI both consume these instead of raw bucket access.
func (b *BlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}
