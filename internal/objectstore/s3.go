package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3-compatible endpoint settings.
// Empty credentials fall back to the AWS_* environment variables.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// S3 is an S3-compatible object store
type S3 struct {
	client *minio.Client
	logger *slog.Logger
}

// NewS3 creates an S3 store
func NewS3(cfg S3Config, logger *slog.Logger) (*S3, error) {
	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	logger.Info("S3 object store initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("region", cfg.Region),
	)

	return &S3{client: client, logger: logger}, nil
}

// Provider returns the backend name used in logs
func (s *S3) Provider() string { return "s3" }

// Download copies bucket/key to dstPath
func (s *S3) Download(ctx context.Context, bucket, key, dstPath string) error {
	if err := s.client.FGetObject(ctx, bucket, key, dstPath, minio.GetObjectOptions{}); err != nil {
		return s3DependencyError("objectstore.download", err)
	}
	return nil
}

// Upload stores srcPath as bucket/key with a content type guessed from its extension
func (s *S3) Upload(ctx context.Context, bucket, key, srcPath string) error {
	opts := minio.PutObjectOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(srcPath)),
	}

	info, err := s.client.FPutObject(ctx, bucket, key, srcPath, opts)
	if err != nil {
		return s3DependencyError("objectstore.upload", err)
	}

	s.logger.Debug("Object uploaded",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return nil
}

// Open streams bucket/key. The caller closes the reader.
func (s *S3) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3DependencyError("objectstore.get", err)
	}

	// GetObject is lazy; Stat surfaces missing keys before the caller reads
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s3DependencyError("objectstore.get", err)
	}
	return obj, nil
}

func s3DependencyError(op string, err error) error {
	depErr := domain.NewDependencyError(op, err)

	resp := minio.ToErrorResponse(err)
	depErr.Code = resp.Code
	depErr.RequestID = resp.RequestID
	depErr.StatusCode = resp.StatusCode
	return depErr
}
