package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	"github.com/JakeFAU/due-diligence-crawler/internal/hash/sha256"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
)

func strPtr(s string) *string { return &s }

func TestRecordScopeInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doc := filepath.Join(t.TempDir(), "1.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("hello"), 0o600))
	digest, err := sha256.New().HashFile(doc)
	require.NoError(t, err)

	store, err := NewAuditStoreWithPool(mock, "", sha256.New())
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	scope := crawler.ScopeReport{Category: "Google", Dir: "job-1/Google", Total: 2, Rendered: 1, SuccessRate: 50}
	outcomes := []render.Outcome{
		{Ordinal: 1, URL: "https://a.com", Path: doc, Method: render.MethodBrowser, Attempts: 1, Rendered: true},
		{Ordinal: 2, URL: "https://b.com", Method: render.MethodBrowser, Attempts: 2, Err: errors.New("navigate: timeout")},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO manifest_entries").
		WithArgs("job-1", "Google", "job-1/Google", 1, "https://a.com", true, render.MethodBrowser, 1, strPtr(digest), (*string)(nil), 50.0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO manifest_entries").
		WithArgs("job-1", "Google", "job-1/Google", 2, "https://b.com", false, render.MethodBrowser, 2, (*string)(nil), strPtr("navigate: timeout"), 50.0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordScope(context.Background(), "job-1", scope, outcomes))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScopeRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAuditStoreWithPool(mock, "audit", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.RecordScope(context.Background(), "job-1", crawler.ScopeReport{Dir: "d"}, []render.Outcome{{Ordinal: 1, URL: "u"}})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScopeEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAuditStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordScope(context.Background(), "job-1", crawler.ScopeReport{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewAuditStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS manifest_entries").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAuditStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewAuditStoreWithPool(nil, "", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewAuditStoreWithPool(mock, "bad;table", nil)
	assert.ErrorContains(t, err, "invalid table name")

	_, err = NewAuditStore(context.Background(), AuditStoreConfig{}, nil)
	assert.ErrorContains(t, err, "db.dsn is required")
}
