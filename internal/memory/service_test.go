package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/rag-go/internal/retrieval"
)

// wordCounter 按空白分词计数，测试里可精确控制预算
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// fakeEmbedder 固定向量的嵌入
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Ready() bool     { return !f.fail }

// fakeLongTerm 记录写入与删除的仓库替身
type fakeLongTerm struct {
	added    []retrieval.EmbeddedChunk
	deleted  []map[string]string
	addErr   error
	clearErr error
}

func (f *fakeLongTerm) Initialize(ctx context.Context) error { return nil }

func (f *fakeLongTerm) AddDocuments(ctx context.Context, chunks []retrieval.EmbeddedChunk) ([]string, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, chunks...)
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids, nil
}

func (f *fakeLongTerm) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Document, error) {
	results := make([]retrieval.Document, 0)
	for _, chunk := range f.added {
		if chunk.Metadata.UserID == req.Filters["user_id"] {
			results = append(results, retrieval.Document{
				ID:       chunk.ID,
				Content:  chunk.Content,
				Metadata: chunk.Metadata,
			})
		}
	}
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return results, nil
}

func (f *fakeLongTerm) ClearCollection(ctx context.Context) bool { return true }

func (f *fakeLongTerm) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.deleted = append(f.deleted, filters)
	return nil
}

func (f *fakeLongTerm) Ready() bool { return true }

func newTestService(t *testing.T, longTerm retrieval.Repository, maxTokens int) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(rdb, wordCounter{}, &fakeEmbedder{}, longTerm, Options{MaxContextTokens: maxTokens})
	return svc, mr
}

func TestAppendAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{}
	svc, _ := newTestService(t, longTerm, 100)

	result := svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "hello there")
	require.NoError(t, result.ShortTerm)
	require.NoError(t, result.LongTerm)

	result = svc.AppendMessage(ctx, "u1", retrieval.RoleAssistant, "hi, how can I help")
	require.NoError(t, result.ShortTerm)
	require.NoError(t, result.LongTerm)

	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, retrieval.RoleUser, history[0].Role)
	assert.Equal(t, "hello there", history[0].Content)
	assert.Equal(t, retrieval.RoleAssistant, history[1].Role)
}

func TestAppendDualWritesLongTerm(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{}
	svc, _ := newTestService(t, longTerm, 100)

	result := svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "remember my name is Ada")
	require.NoError(t, result.LongTerm)

	require.Len(t, longTerm.added, 1)
	chunk := longTerm.added[0]
	assert.Equal(t, "User: remember my name is Ada", chunk.Content)
	assert.Equal(t, "u1", chunk.Metadata.UserID)
}

func TestAppendPrunesOldestOverBudget(t *testing.T) {
	ctx := context.Background()
	// 预算5个词：第三条写入后最旧的一条被弹出
	svc, _ := newTestService(t, &fakeLongTerm{}, 5)

	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "one two three")
	svc.AppendMessage(ctx, "u1", retrieval.RoleAssistant, "four five")
	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "six seven")

	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "four five", history[0].Content)
	assert.Equal(t, "six seven", history[1].Content)
}

func TestAppendLongTermFailureDoesNotBlockShortTerm(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{addErr: errors.New("vector store down")}
	svc, _ := newTestService(t, longTerm, 100)

	result := svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "hello")
	assert.Error(t, result.LongTerm)
	assert.NoError(t, result.ShortTerm)

	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecallFiltersByUser(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{}
	svc, _ := newTestService(t, longTerm, 100)

	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "I like rockets")
	svc.AppendMessage(ctx, "u2", retrieval.RoleUser, "I like cats")

	docs, err := svc.Recall(ctx, "u1", "rockets", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u1", docs[0].Metadata.UserID)
}

func TestClearHistoryBothLevels(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{}
	svc, mr := newTestService(t, longTerm, 100)

	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "hello")
	result := svc.ClearHistory(ctx, "u1")
	require.NoError(t, result.ShortTerm)
	require.NoError(t, result.LongTerm)

	assert.False(t, mr.Exists("memory:chat:u1"))
	require.Len(t, longTerm.deleted, 1)
	assert.Equal(t, map[string]string{"user_id": "u1"}, longTerm.deleted[0])
}

func TestClearHistoryPartialFailureSurfaced(t *testing.T) {
	ctx := context.Background()
	longTerm := &fakeLongTerm{clearErr: errors.New("delete unsupported")}
	svc, _ := newTestService(t, longTerm, 100)

	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "hello")
	result := svc.ClearHistory(ctx, "u1")

	assert.NoError(t, result.ShortTerm)
	assert.Error(t, result.LongTerm)

	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistorySkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	svc, mr := newTestService(t, &fakeLongTerm{}, 100)

	svc.AppendMessage(ctx, "u1", retrieval.RoleUser, "valid message")
	mr.RPush("memory:chat:u1", "{not valid json")

	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
