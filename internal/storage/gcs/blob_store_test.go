package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/due-diligence-crawler/internal/storage"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	store, err := New(client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObject_Uploads(t *testing.T) {
	const key = "job-1/Google/1.pdf"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/dd-artifacts/o")
		assert.Equal(t, key, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "pdf-bytes")
		assert.Contains(t, string(body), "application/pdf")
		fmt.Fprintf(w, `{"bucket":"dd-artifacts","name":%q}`, key)
	})

	uri, err := newTestStore(t, handler).PutObject(context.Background(), "dd-artifacts", key, "application/pdf", strings.NewReader("pdf-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "gs://dd-artifacts/"+key, uri)
}

func TestPutObject_ForbiddenIsCredentialError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"caller does not have storage.objects.create access"}}`)
	})

	_, err := newTestStore(t, handler).PutObject(context.Background(), "dd-artifacts", "k", "", strings.NewReader("x"))
	require.ErrorIs(t, err, storage.ErrCredentials)
}

func TestPutObject_ServerErrorIsNotCredentialError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad object name"}}`)
	})

	_, err := newTestStore(t, handler).PutObject(context.Background(), "dd-artifacts", "k", "", strings.NewReader("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrCredentials)
}

func TestPutObject_Validation(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "", "k", "", strings.NewReader("x"))
	require.Error(t, err)
	_, err = New(nil)
	require.Error(t, err)
}
