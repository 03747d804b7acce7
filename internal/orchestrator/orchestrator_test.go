package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/due-diligence-crawler/internal/browser"
	"github.com/JakeFAU/due-diligence-crawler/internal/browser/browsertest"
	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	"github.com/JakeFAU/due-diligence-crawler/internal/job"
	"github.com/JakeFAU/due-diligence-crawler/internal/manifest"
	"github.com/JakeFAU/due-diligence-crawler/internal/publisher/memory"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
	"github.com/JakeFAU/due-diligence-crawler/internal/search"
	"github.com/JakeFAU/due-diligence-crawler/internal/textract"
)

const googleSurface = "https://cse.example.com/google"

type upload struct {
	bucket string
	jobID  string
	files  []string
}

type recordingUploader struct {
	mu      sync.Mutex
	root    string
	err     error
	uploads []upload
}

func (u *recordingUploader) Upload(_ context.Context, bucket, jobID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var files []string
	base := filepath.Join(u.root, jobID)
	_ = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(u.root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	u.uploads = append(u.uploads, upload{bucket: bucket, jobID: jobID, files: files})
	return u.err
}

type panickingRunner struct {
	next VariantRunner
	tag  crawler.Tag
}

func (p panickingRunner) Crawl(ctx context.Context, b browser.Browser, v crawler.Variant, t crawler.Target) ([]crawler.ScopeReport, error) {
	if v.Tag == p.tag {
		panic("boom")
	}
	return p.next.Crawl(ctx, b, v, t)
}

type fixture struct {
	root     string
	fake     *browsertest.Fake
	uploader *recordingUploader
	pub      *memory.Publisher
	orch     *Orchestrator
}

func newFixture(t *testing.T, surfaces crawler.Surfaces, keepLocal bool, wrap func(VariantRunner) VariantRunner) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	root := t.TempDir()
	fake := browsertest.New()
	renderer := render.New(render.Config{RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond}, nil, textract.PDF{}, nil, logger)
	var runner VariantRunner = crawler.NewRunner(root, search.NewRunner(search.Config{}, logger), renderer, nil, logger)
	if wrap != nil {
		runner = wrap(runner)
	}
	uploader := &recordingUploader{root: root}
	pub := memory.New()
	orch := New(
		Config{WorkRoot: root, Bucket: "dd-artifacts", ReportTopic: "job-reports", KeepLocal: keepLocal},
		crawler.NewRegistry(surfaces, crawler.ProxyPolicy{}, nil),
		runner,
		fake.Factory(),
		uploader,
		pub,
		logger,
	)
	return &fixture{root: root, fake: fake, uploader: uploader, pub: pub, orch: orch}
}

func acmeJob(directors ...string) job.Job {
	return job.Job{ID: "sched-1", Subject: "Acme Co", Directors: directors, Pages: 2, Variants: []string{"GOOGLE"}}
}

func TestProcess_SinglePageOfResults(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	f.fake.Surface(googleSurface).Set(crawler.RiskQuery("Acme Co", crawler.LangEnglish),
		[]string{"https://a.com/1", "https://b.com/2", "https://c.com/3"})

	report, err := f.orch.Process(context.Background(), acmeJob())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, []string{"GOOGLE"}, report.VariantsRun)
	require.Len(t, report.Scopes, 2)
	assert.Equal(t, 3, report.Scopes[0].Total)
	assert.Equal(t, 3, report.Scopes[0].Rendered)
	assert.InDelta(t, 100.0, report.Scopes[0].SuccessRate, 0.001)

	dir := filepath.Join(f.root, "sched-1", "Google")
	for _, name := range []string{"1.pdf", "2.pdf", "3.pdf", "1.txt", "2.txt", "3.txt", manifest.FileName} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.FileExists(t, filepath.Join(dir, "Hindi", manifest.FileName))

	require.Len(t, f.uploader.uploads, 1)
	assert.Equal(t, "dd-artifacts", f.uploader.uploads[0].bucket)
	assert.Equal(t, "sched-1", f.uploader.uploads[0].jobID)
	assert.Contains(t, f.uploader.uploads[0].files, "sched-1/Google/1.pdf")

	assert.True(t, f.fake.Closed(), "browser released after the job")
	_, _, open := f.fake.PageCounts()
	assert.Zero(t, open)

	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-reports", msgs[0].Topic)
	published, ok := msgs[0].Payload.(Report)
	require.True(t, ok)
	assert.Equal(t, "sched-1", published.JobID)
}

func TestProcess_DirectorsGetOwnSubtree(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	f.fake.Surface(googleSurface).
		Set(crawler.RiskQuery("Acme Co", crawler.LangEnglish), []string{"https://a.com/1"}).
		Set(crawler.RiskQuery("Jane Doe", crawler.LangEnglish), []string{"https://d.com/1", "https://d.com/2"})

	report, err := f.orch.Process(context.Background(), acmeJob("Jane Doe"))
	require.NoError(t, err)
	require.Len(t, report.Scopes, 4)
	assert.Equal(t, "sched-1/Google/Directors/Jane Doe", report.Scopes[2].Dir)
	assert.Equal(t, 2, report.Scopes[2].Total)

	listing, err := os.ReadFile(filepath.Join(f.root, "sched-1", "Google", "Directors", "Jane Doe", manifest.FileName))
	require.NoError(t, err)
	assert.Equal(t, "1 -> https://d.com/1\n2 -> https://d.com/2\n", string(listing))
	assert.FileExists(t, filepath.Join(f.root, "sched-1", "Google", "Directors", "Jane Doe", "Hindi", manifest.FileName))
}

func TestProcess_PartialRenderFailure(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	f.fake.Surface(googleSurface).Set(crawler.RiskQuery("Acme Co", crawler.LangEnglish),
		[]string{"https://a.com/1", "https://b.com/2", "https://c.com/3"})
	f.fake.FailNavigation("https://b.com/2", browsertest.Timeout("navigate"), 0)

	report, err := f.orch.Process(context.Background(), acmeJob())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.InDelta(t, 66.67, report.Scopes[0].SuccessRate, 0.001)
	assert.Len(t, f.uploader.uploads, 1)
	assert.NoFileExists(t, filepath.Join(f.root, "sched-1", "Google", "2.pdf"))
}

func TestProcess_UnknownAndUnconfiguredVariantsAreSkipped(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	j := acmeJob()
	j.Variants = []string{"BOGUS", "news", "google"}

	report, err := f.orch.Process(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOGLE"}, report.VariantsRun)
	assert.Equal(t, []string{"BOGUS", "NEWS"}, report.VariantsSkipped)
}

func TestProcess_OfficialWebsiteWithoutSiteIsSkipped(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	j := acmeJob()
	j.Variants = []string{"OFFICIAL_WEBSITE"}

	report, err := f.orch.Process(context.Background(), j)
	require.ErrorIs(t, err, ErrNothingRan)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Empty(t, report.VariantsRun)
	assert.Equal(t, []string{"OFFICIAL_WEBSITE"}, report.VariantsSkipped)
	assert.Empty(t, report.Scopes)
	assert.Len(t, f.uploader.uploads, 1)
}

func TestProcess_NothingRanStillUploadsOnce(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{}, true, nil)

	report, err := f.orch.Process(context.Background(), acmeJob())
	require.ErrorIs(t, err, ErrNothingRan)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Len(t, f.uploader.uploads, 1)
}

func TestProcess_PanicInVariantIsContained(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface, News: "https://cse.example.com/news"}, true,
		func(next VariantRunner) VariantRunner { return panickingRunner{next: next, tag: crawler.TagGoogle} })
	j := acmeJob()
	j.Variants = []string{"GOOGLE", "NEWS"}

	report, err := f.orch.Process(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOGLE"}, report.VariantsFailed)
	assert.Equal(t, []string{"NEWS"}, report.VariantsRun)
	assert.Len(t, f.uploader.uploads, 1)
}

func TestProcess_UploadFailure(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, false, nil)
	f.uploader.err = errors.New("bucket gone")

	report, err := f.orch.Process(context.Background(), acmeJob())
	require.Error(t, err)
	assert.Equal(t, StatusUploadFailed, report.Status)
	assert.Equal(t, "bucket gone", report.UploadError)
	assert.DirExists(t, filepath.Join(f.root, "sched-1"), "local tree kept when the upload failed")
}

func TestProcess_CleansLocalTreeAfterUpload(t *testing.T) {
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, false, nil)

	_, err := f.orch.Process(context.Background(), acmeJob())
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(f.root, "sched-1"))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestProcess_StampsReportWithClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, crawler.Surfaces{Google: googleSurface}, true, nil)
	WithClock(fixedClock{t: at})(f.orch)

	report, err := f.orch.Process(context.Background(), acmeJob())
	require.NoError(t, err)
	assert.Equal(t, at, report.StartedAt)
	assert.Equal(t, at, report.FinishedAt)
}
