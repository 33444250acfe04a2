// Package testutil provides shared test helpers: temp corpora, vector stores
// and deterministic fakes for the model capabilities.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/starford/ragsync/internal/llm"
	"github.com/starford/ragsync/internal/storage"
	"github.com/starford/ragsync/internal/vectorindex/sqlitestore"
)

// Logger returns a logger that discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary SQLite vector store that is automatically cleaned up.
func TestStore(t *testing.T) *sqlitestore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ragsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := sqlitestore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCorpus creates a temporary corpus directory with a storage.Provider.
func TestCorpus(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFile writes content to rel under root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// FakeEmbedder hashes words into a fixed number of buckets. Texts sharing
// words get similar vectors, which is enough for ranking assertions.
type FakeEmbedder struct {
	Dim   int
	Err   error
	calls atomic.Int64
}

// NewFakeEmbedder returns a FakeEmbedder of the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// Embed implements llm.Embedder.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	vec := make([]float32, f.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(f.Dim)]++
	}
	return vec, nil
}

// Calls returns how many times Embed was called.
func (f *FakeEmbedder) Calls() int { return int(f.calls.Load()) }

// FakeModel is a scripted llm.ChatModel. When Fn is set it answers every
// request; otherwise Responses are returned in order.
type FakeModel struct {
	Fn        func(req llm.Request) (llm.Response, error)
	Responses []llm.Response

	mu       sync.Mutex
	requests []llm.Request
}

// Complete implements llm.ChatModel.
func (f *FakeModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.Fn != nil {
		return f.Fn(req)
	}
	if len(f.Responses) == 0 {
		return llm.Response{}, errors.New("fake model: no scripted response left")
	}
	resp := f.Responses[0]
	f.Responses = f.Responses[1:]
	return resp, nil
}

// Requests returns a copy of every request received.
func (f *FakeModel) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}
