// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/due-diligence-crawler/internal/storage"
)

// BlobStore writes artifacts to GCS buckets.
type BlobStore struct {
	client *gcstorage.Client
}

// Open dials GCS with Application Default Credentials unless opts say
// otherwise. A missing credential is reported as storage.ErrCredentials.
func Open(ctx context.Context, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		if isCredentialError(err) {
			return nil, fmt.Errorf("create GCS client: %w: %v", storage.ErrCredentials, err)
		}
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &BlobStore{client: client}, nil
}

// New wraps an existing client.
func New(client *gcstorage.Client) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &BlobStore{client: client}, nil
}

// PutObject uploads r to bucket/key and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", classify(fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr), closeErr)
		}
		return "", classify(fmt.Errorf("copy object: %w", err), err)
	}
	if err := writer.Close(); err != nil {
		return "", classify(fmt.Errorf("close writer: %w", err), err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, key), nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

func classify(wrapped, cause error) error {
	if isCredentialError(cause) {
		return fmt.Errorf("%w: %w", storage.ErrCredentials, wrapped)
	}
	return wrapped
}

func isCredentialError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden
	}
	return strings.Contains(err.Error(), "could not find default credentials")
}
