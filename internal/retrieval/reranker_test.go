package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rerankCandidates() []Document {
	return []Document{
		{ID: "a", Content: "first candidate", Score: 0.9},
		{ID: "b", Content: "second candidate", Score: 0.8},
		{ID: "c", Content: "third candidate", Score: 0.7},
		{ID: "d", Content: "fourth candidate", Score: 0.6},
	}
}

func TestCrossEncoderRerankEmptyInputNoCall(t *testing.T) {
	provider := new(MockScoreProvider)
	reranker := NewCrossEncoderReranker(provider)

	results := reranker.Rerank(context.Background(), "query", nil, 3)

	assert.Empty(t, results)
	provider.AssertNotCalled(t, "Score")
}

func TestCrossEncoderRerankOrdersByScore(t *testing.T) {
	provider := new(MockScoreProvider)
	provider.On("Score", mock.Anything, "query", mock.Anything).
		Return([]float64{0.1, 0.9, 0.5, 0.3}, nil)

	reranker := NewCrossEncoderReranker(provider)
	results := reranker.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "d", results[2].ID)

	// 重排序分数写入独立字段，向量分数保持不变
	require.NotNil(t, results[0].RerankScore)
	assert.Equal(t, 0.9, *results[0].RerankScore)
	assert.Equal(t, 0.8, results[0].Score)
}

func TestCrossEncoderRerankScoringFailureKeepsFusedOrder(t *testing.T) {
	provider := new(MockScoreProvider)
	provider.On("Score", mock.Anything, "query", mock.Anything).
		Return(nil, errors.New("rerank service down"))

	reranker := NewCrossEncoderReranker(provider)
	results := reranker.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "c", results[2].ID)
	assert.Nil(t, results[0].RerankScore)
}

func TestCrossEncoderRerankDefaultTopK(t *testing.T) {
	provider := new(MockScoreProvider)
	provider.On("Score", mock.Anything, "query", mock.Anything).
		Return([]float64{0.4, 0.3, 0.2, 0.1}, nil)

	reranker := NewCrossEncoderReranker(provider)
	results := reranker.Rerank(context.Background(), "query", rerankCandidates(), 0)

	assert.Len(t, results, DefaultRerankTopK)
}

func TestNoopRerankerTruncates(t *testing.T) {
	reranker := &NoopReranker{}
	results := reranker.Rerank(context.Background(), "query", rerankCandidates(), 2)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}
