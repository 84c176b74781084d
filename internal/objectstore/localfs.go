package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// LocalFS stores objects as files under root/<bucket>/<key>
type LocalFS struct {
	root string
}

// NewLocalFS creates a filesystem store rooted at root
func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: filepath.Clean(root)}
}

// Provider returns "localfs"
func (l *LocalFS) Provider() string { return "localfs" }

// path maps bucket/key to a file under root. Buckets are single path segments
// and keys may not climb out of their bucket.
func (l *LocalFS) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	if bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}

	bucketDir := filepath.Join(l.root, bucket)
	if !within(l.root, bucketDir) {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	p := filepath.Join(bucketDir, filepath.FromSlash(key))
	if !within(bucketDir, p) {
		return "", fmt.Errorf("object key %q escapes bucket %q", key, bucket)
	}
	return p, nil
}

// within reports whether p is strictly below dir
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Download copies bucket/key to dstPath
func (l *LocalFS) Download(ctx context.Context, bucket, key, dstPath string) error {
	src, err := l.Open(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return domain.NewDependencyError("objectstore.download", err)
	}
	return nil
}

// Upload copies srcPath to bucket/key, creating parent directories
func (l *LocalFS) Upload(ctx context.Context, bucket, key, srcPath string) error {
	p, err := l.path(bucket, key)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return domain.NewDependencyError("objectstore.upload", err)
	}

	dst, err := os.Create(p)
	if err != nil {
		return domain.NewDependencyError("objectstore.upload", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return domain.NewDependencyError("objectstore.upload", err)
	}
	return nil
}

// Open opens bucket/key for reading. A missing file is reported with CodeNoSuchKey.
func (l *LocalFS) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := l.path(bucket, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		depErr := domain.NewDependencyError("objectstore.get", err)
		if os.IsNotExist(err) {
			depErr.Code = CodeNoSuchKey
		}
		return nil, depErr
	}
	return f, nil
}
