// Package storage pushes a job's local artifact tree to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrCredentials marks a missing or rejected storage credential. It fails
// the whole upload, not one file.
var ErrCredentials = errors.New("storage credentials unavailable")

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error)
}

// Uploader walks {workRoot}/{jobID} and stores every file under the key
// {jobID}/{relative path}.
type Uploader struct {
	workRoot string
	store    BlobStore
	logger   *zap.Logger
}

// NewUploader builds an Uploader.
func NewUploader(workRoot string, store BlobStore, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{workRoot: workRoot, store: store, logger: logger}
}

// Upload pushes the job tree. Per-file failures are collected and the walk
// continues; a credential failure stops it.
func (u *Uploader) Upload(ctx context.Context, bucket, jobID string) error {
	if strings.TrimSpace(bucket) == "" {
		return errors.New("bucket is required")
	}
	root := filepath.Join(u.workRoot, jobID)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		u.logger.Warn("no local artifacts to upload", zap.String("job_id", jobID))
		return nil
	}

	var (
		errs     []error
		uploaded int
	)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(u.workRoot, p)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		key := filepath.ToSlash(rel)
		if err := u.putFile(ctx, bucket, key, p); err != nil {
			if errors.Is(err, ErrCredentials) {
				return err
			}
			u.logger.Warn("upload file failed", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
			return nil
		}
		uploaded++
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("upload %s: %w", jobID, walkErr)
	}
	u.logger.Info("uploaded job artifacts",
		zap.String("job_id", jobID),
		zap.String("bucket", bucket),
		zap.Int("files", uploaded),
		zap.Int("failed", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("upload %s: %d file(s) failed: %w", jobID, len(errs), errors.Join(errs...))
	}
	return nil
}

func (u *Uploader) putFile(ctx context.Context, bucket, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	if _, err := u.store.PutObject(ctx, bucket, key, ContentType(key), f); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ContentType guesses the media type from the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Failing is an upload step that always fails with err. It stands in when the
// storage backend could not be configured.
type Failing struct {
	Err error
}

// Upload returns the configured error.
func (f Failing) Upload(_ context.Context, _, jobID string) error {
	return fmt.Errorf("upload %s: %w", jobID, f.Err)
}

// Noop skips uploading.
type Noop struct{}

// Upload does nothing.
func (Noop) Upload(context.Context, string, string) error { return nil }
