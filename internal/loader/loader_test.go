package loader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/docintel"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/storage"
)

func corpus(t *testing.T, files map[string]string) storage.Provider {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	for p, c := range files {
		require.NoError(t, fs.Write(p, []byte(c)))
	}
	return fs
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestTextLoader_PlainText(t *testing.T) {
	store := corpus(t, map[string]string{"about.txt": "Chris is a programmer.\n"})
	docs, err := NewTextLoader(store, quiet()).Load(context.Background(), models.Source{Location: "about.txt", Kind: models.KindText})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Chris is a programmer.\n", docs[0].Content)
	assert.Equal(t, "about.txt", docs[0].Source())
}

func TestTextLoader_EmptyFileSkipped(t *testing.T) {
	store := corpus(t, map[string]string{"blank.txt": "  \n\t\n"})
	docs, err := NewTextLoader(store, quiet()).Load(context.Background(), models.Source{Location: "blank.txt", Kind: models.KindText})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestTextLoader_MarkdownMetadata(t *testing.T) {
	store := corpus(t, map[string]string{"notes/cv.md": "---\ntitle: CV\ntags: [go]\n---\nWorked on RAG.\n"})
	docs, err := NewTextLoader(store, quiet()).Load(context.Background(), models.Source{Location: "notes/cv.md", Kind: models.KindText})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Worked on RAG.\n", docs[0].Content)
	assert.Equal(t, "CV", docs[0].Metadata[models.MetaTitle])
	assert.Equal(t, []string{"go"}, docs[0].Metadata[models.MetaTags])
}

func TestRegistry_UnknownKindAndFailures(t *testing.T) {
	r := NewRegistry()
	_, err := r.Load(context.Background(), models.Source{Location: "x.pdf", Kind: models.KindPDF})
	assert.True(t, errors.Is(err, apperr.ErrSourceUnavailable))

	boom := errors.New("boom")
	r.Register(models.KindText, LoaderFunc(func(context.Context, models.Source) ([]models.Document, error) {
		return nil, boom
	}))
	assert.True(t, r.Has(models.KindText))
	_, err = r.Load(context.Background(), models.Source{Location: "a.txt", Kind: models.KindText})
	assert.True(t, errors.Is(err, apperr.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, boom))
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{".txt", "md"}, []string{".PDF"})
	k, ok := c.Kind("docs/a.TXT")
	assert.True(t, ok)
	assert.Equal(t, models.KindText, k)
	k, ok = c.Kind("cv.pdf")
	assert.True(t, ok)
	assert.Equal(t, models.KindPDF, k)
	_, ok = c.Kind("image.png")
	assert.False(t, ok)

	assert.Equal(t, models.KindPDF, ClassifyURL("https://example.com/files/cv.pdf?dl=1"))
	assert.Equal(t, models.KindWeb, ClassifyURL("https://example.com/blog/post"))
}

const page = `<html><head><title>Chris' blog</title></head><body>
<nav class="menu">Home About</nav>
<h1 class="post-title">Building a RAG bot</h1>
<div class="post-content"><p>First paragraph.</p><script>var x = 1;</script><p>Second   paragraph.</p></div>
<footer>copyright</footer>
</body></html>`

func TestWebLoader_ClassFilter(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	docs, err := NewWebLoader().Load(context.Background(), models.Source{Location: srv.URL, Kind: models.KindWeb})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, DefaultUserAgent, ua)
	assert.Equal(t, "Building a RAG bot\n\nFirst paragraph.\nSecond paragraph.", docs[0].Content)
	assert.Equal(t, "Chris' blog", docs[0].Metadata[models.MetaTitle])
	assert.Equal(t, srv.URL, docs[0].Source())
}

func TestWebLoader_WholeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	docs, err := NewWebLoader(WithClasses(nil)).Load(context.Background(), models.Source{Location: srv.URL, Kind: models.KindWeb})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "Home About")
	assert.Contains(t, docs[0].Content, "copyright")
	assert.NotContains(t, docs[0].Content, "var x")
}

func TestWebLoader_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := NewWebLoader().Load(context.Background(), models.Source{Location: srv.URL, Kind: models.KindWeb})
	assert.Error(t, err)
}

type fakeAnalyzer struct {
	gotURL  string
	gotFile []byte
	pages   []docintel.Page
}

func (f *fakeAnalyzer) AnalyzeFile(_ context.Context, r io.Reader) ([]docintel.Page, error) {
	f.gotFile, _ = io.ReadAll(r)
	return f.pages, nil
}

func (f *fakeAnalyzer) AnalyzeURL(_ context.Context, url string) ([]docintel.Page, error) {
	f.gotURL = url
	return f.pages, nil
}

func TestPDFLoader_PagesBecomeDocuments(t *testing.T) {
	store := corpus(t, map[string]string{"cv.pdf": "%PDF-1.7"})
	fa := &fakeAnalyzer{pages: []docintel.Page{
		{Number: 1, Width: 8.5, Height: 11, Unit: "inch", Lines: []string{"Chris", "Engineer"}},
		{Number: 2, Width: 8.5, Height: 11, Unit: "inch", Lines: []string{"Skills"}},
	}}

	docs, err := NewPDFLoader(fa, store).Load(context.Background(), models.Source{Location: "cv.pdf", Kind: models.KindPDF})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(fa.gotFile))
	require.Len(t, docs, 2)
	assert.Equal(t, "Chris\nEngineer", docs[0].Content)
	assert.Equal(t, 1, docs[0].Metadata[models.MetaPageNumber])
	assert.Equal(t, "inch", docs[0].Metadata["unit"])
	assert.Equal(t, 2, docs[1].Metadata[models.MetaPageNumber])
	assert.Equal(t, "cv.pdf", docs[1].Source())
}

func TestPDFLoader_RemoteAndUnconfigured(t *testing.T) {
	fa := &fakeAnalyzer{pages: []docintel.Page{{Number: 1, Lines: []string{"remote"}}}}
	docs, err := NewPDFLoader(fa, nil).Load(context.Background(), models.Source{Location: "https://example.com/cv.pdf", Kind: models.KindPDF})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cv.pdf", fa.gotURL)
	require.Len(t, docs, 1)

	_, err = NewPDFLoader(nil, nil).Load(context.Background(), models.Source{Location: "cv.pdf", Kind: models.KindPDF})
	assert.Error(t, err)
}
