package vectorindex_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/testutil"
	"github.com/starford/ragsync/internal/vectorindex"
)

const dim = 64

func newManager(t *testing.T, slept *[]time.Duration, opts ...vectorindex.Option) (*vectorindex.Manager, *testutil.FakeEmbedder) {
	t.Helper()
	emb := testutil.NewFakeEmbedder(dim)
	opts = append([]vectorindex.Option{
		vectorindex.WithLogger(testutil.Logger()),
		vectorindex.WithSleep(func(d time.Duration) { *slept = append(*slept, d) }),
	}, opts...)
	m := vectorindex.NewManager(testutil.TestStore(t), emb, models.IndexDescriptor{
		Name: "chris-data", Dimension: dim, Metric: models.MetricCosine, Cloud: "aws", Region: "us-east-1",
	}, opts...)
	return m, emb
}

func chunks(texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, t := range texts {
		out[i] = models.Chunk{
			ID:       string(rune('a'+i)) + "-id",
			Content:  t,
			Metadata: map[string]any{models.MetaSource: "doc.txt", models.MetaChunkIndex: i},
		}
	}
	return out
}

func TestUnboundOperationsFail(t *testing.T) {
	var slept []time.Duration
	m, _ := newManager(t, &slept)
	ctx := context.Background()

	assert.False(t, m.Bound())
	assert.ErrorIs(t, m.Upsert(ctx, chunks("x"), nil), apperr.ErrNotInitialized)
	_, err := m.AsRetriever(4)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = m.Search(ctx, "x", 4)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = m.Count(ctx)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)

	ok, err := m.Bind(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "bind never creates")
	assert.False(t, m.Bound())
}

func TestEnsureIndex_CreatesOnceAndWaits(t *testing.T) {
	var slept []time.Duration
	m, _ := newManager(t, &slept, vectorindex.WithPropagationWait(10*time.Second))
	ctx := context.Background()

	created, err := m.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, m.Bound())
	assert.Equal(t, []time.Duration{10 * time.Second}, slept)

	created, err = m.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, slept, 1, "no wait for an existing index")
}

func TestUpsertAndSearch(t *testing.T) {
	var slept []time.Duration
	m, emb := newManager(t, &slept, vectorindex.WithBatchSize(2))
	ctx := context.Background()
	_, err := m.EnsureIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Upsert(ctx, chunks(
		"Chris programs in Go and Python",
		"Chris enjoys hiking in the mountains",
		"The weather report for Bangkok",
	), nil))
	assert.Equal(t, 3, emb.Calls())

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := m.Search(ctx, "which languages does Chris program in", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Chris programs in Go and Python", hits[0].Content)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	r, err := m.AsRetriever(1)
	require.NoError(t, err)
	got, err := r.Retrieve(ctx, "hiking mountains")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Chris enjoys hiking in the mountains", got[0].Content)
}

func TestUpsert_EmbedFailureIsUpsertFailed(t *testing.T) {
	var slept []time.Duration
	m, emb := newManager(t, &slept)
	ctx := context.Background()
	_, err := m.EnsureIndex(ctx)
	require.NoError(t, err)

	emb.Err = errors.New("quota exceeded")
	err = m.Upsert(ctx, chunks("a", "b"), nil)
	assert.ErrorIs(t, err, apperr.ErrUpsertFailed)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	var slept []time.Duration
	m, _ := newManager(t, &slept)
	ctx := context.Background()
	_, err := m.EnsureIndex(ctx)
	require.NoError(t, err)

	err = m.Upsert(ctx, chunks("a"), testutil.NewFakeEmbedder(8))
	assert.ErrorIs(t, err, apperr.ErrUpsertFailed)
}

func TestDeleteIndexUnbinds(t *testing.T) {
	var slept []time.Duration
	m, _ := newManager(t, &slept)
	ctx := context.Background()
	_, err := m.EnsureIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, m.DeleteIndex(ctx))
	assert.False(t, m.Bound())
	ok, err := m.Bind(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
