package indexsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/loader"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/splitter"
	"github.com/starford/ragsync/internal/testutil"
	"github.com/starford/ragsync/internal/tracker"
	"github.com/starford/ragsync/internal/vectorindex"
)

type env struct {
	root     string
	pipeline *Pipeline
	tracker  *tracker.Tracker
	index    *vectorindex.Manager
	embedder *testutil.FakeEmbedder
	loads    *atomic.Int32
	slept    *atomic.Int32
	onLoad   *func(path string) // called after each text file is read
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root, store := testutil.TestCorpus(t)
	logger := testutil.Logger()

	tr, err := tracker.Open(filepath.Join(t.TempDir(), "embedding_metadata.json"), root, logger)
	require.NoError(t, err)

	loads := &atomic.Int32{}
	onLoad := new(func(path string))
	text := loader.NewTextLoader(store, logger)
	reg := loader.NewRegistry()
	reg.Register(models.KindText, loader.LoaderFunc(func(ctx context.Context, src models.Source) ([]models.Document, error) {
		loads.Add(1)
		docs, err := text.Load(ctx, src)
		if hook := *onLoad; hook != nil {
			hook(src.Location)
		}
		return docs, err
	}))
	reg.Register(models.KindPDF, loader.LoaderFunc(func(_ context.Context, src models.Source) ([]models.Document, error) {
		loads.Add(1)
		if strings.HasPrefix(src.Location, "bad") {
			return nil, errors.New("analysis failed")
		}
		return []models.Document{{
			Content:  "Page one of " + src.Location,
			Metadata: map[string]any{models.MetaSource: src.Location, models.MetaPageNumber: 1},
		}}, nil
	}))
	reg.Register(models.KindWeb, loader.LoaderFunc(func(_ context.Context, src models.Source) ([]models.Document, error) {
		return []models.Document{{
			Content:  "Chris wrote a blog post about Go concurrency.",
			Metadata: map[string]any{models.MetaSource: src.Location},
		}}, nil
	}))

	sp, err := splitter.New()
	require.NoError(t, err)

	emb := testutil.NewFakeEmbedder(64)
	slept := &atomic.Int32{}
	idx := vectorindex.NewManager(testutil.TestStore(t), emb, models.IndexDescriptor{
		Name: "chris-data", Dimension: 64, Metric: models.MetricCosine,
	}, vectorindex.WithLogger(logger), vectorindex.WithSleep(func(time.Duration) { slept.Add(1) }))

	p := New(store, tr, reg, loader.NewClassifier([]string{".txt", ".md"}, []string{".pdf"}), sp, idx,
		WithLogger(logger), WithConcurrency(2))
	return &env{root: root, pipeline: p, tracker: tr, index: idx, embedder: emb, loads: loads, slept: slept, onLoad: onLoad}
}

// twoThousandChars returns 20 distinct 99-character lines, newline terminated.
func twoThousandChars() string {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString(strings.Repeat(string(rune('a'+i)), 99))
		b.WriteString("\n")
	}
	return b.String()
}

func TestRun_EmptyCorpus(t *testing.T) {
	e := newEnv(t)
	report, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Chunks)
	assert.False(t, report.IndexCreated)
	assert.False(t, report.Bound)
	assert.False(t, e.index.Bound())
	assert.Zero(t, e.embedder.Calls())
	assert.Zero(t, e.slept.Load())
}

func TestRun_IngestsChangedFile(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "about.txt", twoThousandChars())

	report, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Chunks)
	assert.True(t, report.IndexCreated)
	assert.Equal(t, []string{"about.txt"}, report.Ingested)
	assert.EqualValues(t, 1, e.slept.Load(), "propagation wait after creation")

	n, err := e.index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs := e.tracker.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "about.txt", recs[0].Path)
	assert.EqualValues(t, 2000, recs[0].SizeBytes)
	assert.False(t, e.tracker.HasChanged("about.txt"))
}

func TestRun_UnchangedFilesAreSkipped(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "about.txt", twoThousandChars())
	ctx := context.Background()

	_, err := e.pipeline.Run(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, e.loads.Load())
	embeds := e.embedder.Calls()

	report, err := e.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.loads.Load(), "no reload of unchanged file")
	assert.Equal(t, embeds, e.embedder.Calls(), "no re-embed of unchanged file")
	assert.Equal(t, 1, report.Unchanged)
	assert.Zero(t, report.Chunks)
	assert.True(t, report.Bound)
	assert.False(t, report.IndexCreated)
}

func TestRun_EditDuringLoadIsPickedUpNextCycle(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "about.txt", "Chris lives in Bangkok.")
	*e.onLoad = func(path string) {
		_ = os.WriteFile(filepath.Join(e.root, path), []byte("Chris moved to Chiang Mai last year."), 0o644)
	}

	_, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)
	*e.onLoad = nil

	assert.True(t, e.tracker.HasChanged("about.txt"), "edit made while loading must not be recorded as indexed")

	report, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"about.txt"}, report.Ingested)
	assert.False(t, e.tracker.HasChanged("about.txt"))
}

func TestRun_SourceFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "good.txt", "Chris studied computer engineering.")
	testutil.WriteFile(t, e.root, "bad.pdf", "%PDF-1.4")
	testutil.WriteFile(t, e.root, "resume.pdf", "%PDF-1.4")

	report, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad.pdf", report.Failed[0].Source)
	assert.ElementsMatch(t, []string{"good.txt", "resume.pdf"}, report.Ingested)
	assert.True(t, e.tracker.HasChanged("bad.pdf"), "failed source is retried next cycle")
	assert.False(t, e.tracker.HasChanged("good.txt"))
}

func TestRun_UnsupportedFilesIgnored(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "image.png", "binary")
	report, err := e.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, e.loads.Load())
}

func TestRun_PrunesRemovedFiles(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "a.txt", "first file")
	testutil.WriteFile(t, e.root, "b.txt", "second file")
	ctx := context.Background()

	_, err := e.pipeline.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(e.root, "a.txt")))

	report, err := e.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, report.Pruned)

	report, err = e.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Pruned, "pruned exactly once")

	n, err := e.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "vectors of removed files are kept")
}

func TestRun_UpsertFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	testutil.WriteFile(t, e.root, "about.txt", "Chris likes coffee.")
	e.embedder.Err = errors.New("quota exceeded")

	_, err := e.pipeline.Run(context.Background())
	require.ErrorIs(t, err, apperr.ErrUpsertFailed)
	assert.Empty(t, e.tracker.Records(), "nothing marked after a failed upsert")
	assert.True(t, e.tracker.HasChanged("about.txt"))
}

func TestIngestURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n, err := e.pipeline.IngestURL(ctx, "https://example.com/blog/go")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, e.index.Bound())

	hits, err := e.index.Search(ctx, "go concurrency", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.com/blog/go", hits[0].Metadata[models.MetaSource])
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatch_RunsCycleOnChange(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var reports []Report
	go Watch(ctx, e.pipeline, e.root, 50*time.Millisecond, testutil.Logger(), func(r Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			reports = append(reports, r)
		}
	})
	time.Sleep(100 * time.Millisecond)

	testutil.WriteFile(t, e.root, "notes/new.txt", "Chris plays guitar.")

	eventually(t, 3*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range reports {
			for _, p := range r.Ingested {
				if p == "notes/new.txt" {
					return true
				}
			}
		}
		return false
	}, "new file in new directory was not ingested")
}
