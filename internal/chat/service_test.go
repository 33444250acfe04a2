package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ragsync/internal/agent"
	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/conversation"
	"github.com/starford/ragsync/internal/intent"
	"github.com/starford/ragsync/internal/llm"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/testutil"
	"github.com/starford/ragsync/internal/vectorindex"
)

type fixture struct {
	svc      *Service
	store    *conversation.Store
	index    *vectorindex.Manager
	model    *testutil.FakeModel
	toolRuns *atomic.Int32
}

// groundedModel calls the retrieval tool once, then answers with the tool output.
func groundedModel(toolRuns *atomic.Int32) *testutil.FakeModel {
	return &testutil.FakeModel{Fn: func(req llm.Request) (llm.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		if last.Role == llm.RoleTool {
			return llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "Answer: " + last.Content}}, nil
		}
		toolRuns.Add(1)
		args, _ := json.Marshal(map[string]string{"query": last.Content})
		return llm.Response{Message: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: agent.ToolName, Arguments: args}},
		}}, nil
	}}
}

func newFixture(t *testing.T, seed bool) *fixture {
	t.Helper()
	logger := testutil.Logger()
	idx := vectorindex.NewManager(testutil.TestStore(t), testutil.NewFakeEmbedder(64), models.IndexDescriptor{
		Name: "chris-data", Dimension: 64, Metric: models.MetricCosine,
	}, vectorindex.WithLogger(logger), vectorindex.WithSleep(func(time.Duration) {}))

	if seed {
		ctx := context.Background()
		_, err := idx.EnsureIndex(ctx)
		require.NoError(t, err)
		require.NoError(t, idx.Upsert(ctx, []models.Chunk{
			{ID: "1", Content: "Chris works as a backend engineer writing Go.", Metadata: map[string]any{models.MetaSource: "cv.txt"}},
			{ID: "2", Content: "Chris enjoys hiking on weekends.", Metadata: map[string]any{models.MetaSource: "about.txt"}},
			{ID: "3", Content: strings.Repeat("long ", 300), Metadata: map[string]any{models.MetaSource: "long.txt"}},
		}, nil))
	}

	runs := &atomic.Int32{}
	model := groundedModel(runs)
	store := conversation.NewStore(3)
	svc := NewService(idx, store, intent.NewKeywordRouter(), agent.New(model, agent.WithLogger(logger)), WithLogger(logger))
	return &fixture{svc: svc, store: store, index: idx, model: model, toolRuns: runs}
}

func TestChat_NotInitialized(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Chat(context.Background(), "t1", "hello")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	assert.False(t, f.svc.Ready())

	_, err = f.svc.History("t1")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
}

func TestChat_InvalidInput(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.Chat(context.Background(), "t1", "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestChat_GroundedAnswerAppendsTurn(t *testing.T) {
	f := newFixture(t, true)
	answer, err := f.svc.Chat(context.Background(), "t1", "what does Chris work as")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(answer, "Answer: "))
	assert.Contains(t, answer, "backend engineer")
	assert.GreaterOrEqual(t, f.toolRuns.Load(), int32(1))

	hist, err := f.svc.History("t1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "what does Chris work as"}, hist[0])
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: answer}, hist[1])
}

func TestChat_ContextWindowPassedToAgent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := f.svc.Chat(ctx, "t1", q)
		require.NoError(t, err)
	}

	reqs := f.model.Requests()
	last := reqs[len(reqs)-2].Messages // forced retrieval call of the third turn
	// system + 3 context messages + question
	require.Len(t, last, 5)
	assert.Equal(t, "first question", reqs[0].Messages[1].Content)
	assert.Equal(t, "third question", last[4].Content)
	assert.Equal(t, models.RoleAssistant, last[1].Role, "window starts at the first answer")
}

func TestChat_ResetIntent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	answer, err := f.svc.Chat(ctx, "fresh", "please forget everything")
	require.NoError(t, err)
	assert.Equal(t, NothingToClear, answer)

	_, err = f.svc.Chat(ctx, "t1", "what does Chris do")
	require.NoError(t, err)
	runs := f.toolRuns.Load()
	calls := len(f.model.Requests())

	answer, err = f.svc.Chat(ctx, "t1", "please forget everything")
	require.NoError(t, err)
	assert.Equal(t, ResetAck, answer)
	assert.Equal(t, runs, f.toolRuns.Load(), "no retrieval on reset")
	assert.Len(t, f.model.Requests(), calls, "no reasoning session on reset")
	assert.Empty(t, f.store.Context("t1", 3))
}

func TestRespond_SearchShortcut(t *testing.T) {
	f := newFixture(t, true)
	out := f.svc.Respond(context.Background(), "t1", "SEARCH: hiking weekends")

	assert.True(t, strings.HasPrefix(out, "Result 1:\nChris enjoys hiking on weekends...."))
	assert.Contains(t, out, "Result 2:")
	assert.NotContains(t, out, "Result 3:")
	assert.Empty(t, f.model.Requests(), "search never reaches the model")
}

func TestRespond_SearchPreviewTruncated(t *testing.T) {
	f := newFixture(t, true)
	out := f.svc.Respond(context.Background(), "t1", "search: long long long")
	first := strings.SplitN(out, "\n\n", 2)[0]
	body := strings.TrimSuffix(strings.TrimPrefix(first, "Result 1:\n"), "...")
	assert.Len(t, body, 800)
}

func TestRespond_UserSafeErrors(t *testing.T) {
	f := newFixture(t, false)
	out := f.svc.Respond(context.Background(), "t1", "hello")
	assert.Equal(t, apperr.UserMessage(apperr.ErrNotInitialized), out)

	out = f.svc.Respond(context.Background(), "t1", "search: anything")
	assert.Equal(t, apperr.UserMessage(apperr.ErrNotInitialized), out)
}

func TestClear(t *testing.T) {
	f := newFixture(t, true)
	assert.ErrorIs(t, f.svc.Clear("missing"), apperr.ErrNotFound)
	f.store.Append("t1", models.RoleUser, "x")
	assert.NoError(t, f.svc.Clear("t1"))
}

func TestClear_WaitsForInFlightTurn(t *testing.T) {
	f := newFixture(t, true)
	f.store.Append("t1", models.RoleUser, "earlier question")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner := groundedModel(&atomic.Int32{})
	model := &testutil.FakeModel{Fn: func(req llm.Request) (llm.Response, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return inner.Complete(context.Background(), req)
	}}
	svc := NewService(f.index, f.store, intent.NewKeywordRouter(), agent.New(model, agent.WithLogger(testutil.Logger())))

	turnDone := make(chan error, 1)
	go func() {
		_, err := svc.Chat(context.Background(), "t1", "What does Chris do?")
		turnDone <- err
	}()
	<-entered

	clearDone := make(chan error, 1)
	go func() { clearDone <- svc.Clear("t1") }()
	select {
	case <-clearDone:
		t.Fatal("clear completed while a turn was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-turnDone)
	require.NoError(t, <-clearDone)

	th, ok := f.store.Get("t1")
	require.True(t, ok)
	assert.Empty(t, th.Messages, "the turn's messages must not survive the clear")
}
