package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloaderSavesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "Google", "1.pdf")
	n, err := New(Config{UserAgent: "test-agent"}).Download(context.Background(), srv.URL+"/report.pdf", dest)
	require.NoError(t, err)
	assert.EqualValues(t, len("%PDF-1.4 body"), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))
}

func TestDownloaderRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	body := make([]byte, 4105)
	for i := range body {
		body[i] = 'x'
	}
	cases := map[string]http.HandlerFunc{
		"declared length": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			_, _ = w.Write(body)
		},
		"chunked": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(body[:100])
			w.(http.Flusher).Flush()
			_, _ = w.Write(body[100:])
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(handler)
			defer srv.Close()

			dest := filepath.Join(t.TempDir(), "1.pdf")
			n, err := New(Config{MaxBodyBytes: 1024}).Download(context.Background(), srv.URL+"/big.pdf", dest)
			require.ErrorIs(t, err, ErrTooLarge)
			assert.Zero(t, n)
			assert.NoFileExists(t, dest)
		})
	}
}

func TestDownloaderAcceptsBodyAtCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345678"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "1.pdf")
	n, err := New(Config{MaxBodyBytes: 8}).Download(context.Background(), srv.URL+"/exact.pdf", dest)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
	assert.FileExists(t, dest)
}

func TestDownloaderRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("doc"))
	}))
	defer srv.Close()

	d := New(Config{})
	dir := t.TempDir()
	_, err := d.Download(context.Background(), srv.URL+"/a.pdf", filepath.Join(dir, "1.pdf"))
	require.NoError(t, err)
	_, err = d.Download(context.Background(), srv.URL+"/a.pdf", filepath.Join(dir, "2.pdf"))
	require.NoError(t, err)
}

func TestDownloaderHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "1.pdf")
	_, err := New(Config{}).Download(context.Background(), srv.URL+"/missing.pdf", dest)
	require.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestDownloaderCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Download(ctx, srv.URL+"/slow.pdf", filepath.Join(t.TempDir(), "1.pdf"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	hooks := &stubHooks{}
	dest := filepath.Join(t.TempDir(), "1.pdf")
	var (
		written  int64
		fetchErr error
	)
	d.configureCollectorHooks(hooks, dest, &written, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{Body: nil})
	assert.ErrorIs(t, fetchErr, ErrEmptyBody)

	fetchErr = nil
	hooks.onResponse(&colly.Response{Body: []byte("abc")})
	require.NoError(t, fetchErr)
	assert.EqualValues(t, 3, written)

	fetchErr = nil
	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	assert.EqualError(t, fetchErr, "status 403: Forbidden")
}

func TestConfigureCollectorHooks_SizeCap(t *testing.T) {
	t.Parallel()

	d := New(Config{MaxBodyBytes: 4})
	hooks := &stubHooks{}
	dest := filepath.Join(t.TempDir(), "1.pdf")
	var (
		written  int64
		fetchErr error
	)
	d.configureCollectorHooks(hooks, dest, &written, &fetchErr)

	hooks.onHeaders(&colly.Response{Headers: &http.Header{"Content-Length": []string{"4"}}})
	require.NoError(t, fetchErr)

	hooks.onHeaders(&colly.Response{Headers: &http.Header{"Content-Length": []string{"5"}}})
	assert.ErrorIs(t, fetchErr, ErrTooLarge)

	hooks.onError(nil, errors.New("aborted"))
	assert.ErrorIs(t, fetchErr, ErrTooLarge, "the cap error is kept over the abort error")

	fetchErr = nil
	hooks.onResponse(&colly.Response{Body: []byte("12345")})
	assert.ErrorIs(t, fetchErr, ErrTooLarge)
	assert.NoFileExists(t, dest)
}

type stubHooks struct {
	onHeaders  colly.ResponseHeadersCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) {
	s.onHeaders = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
