package retrieval

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"
)

var errEmbedderDown = errors.New("embedder down")

// MockGenerator 模拟文本生成
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *MockGenerator) Ready() bool {
	return true
}

// MockScoreProvider 模拟交叉编码打分
type MockScoreProvider struct {
	mock.Mock
}

func (m *MockScoreProvider) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	args := m.Called(ctx, query, documents)
	if scores, ok := args.Get(0).([]float64); ok {
		return scores, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockScoreProvider) Ready() bool {
	return true
}

// MockRepository 模拟检索仓库，记录每次Search的过滤条件
type MockRepository struct {
	mock.Mock

	mu          sync.Mutex
	SearchCalls []SearchRequest
}

func (m *MockRepository) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRepository) AddDocuments(ctx context.Context, chunks []EmbeddedChunk) ([]string, error) {
	args := m.Called(ctx, chunks)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Search(ctx context.Context, req SearchRequest) ([]Document, error) {
	m.mu.Lock()
	m.SearchCalls = append(m.SearchCalls, req)
	m.mu.Unlock()
	args := m.Called(ctx, req)
	if docs, ok := args.Get(0).([]Document); ok {
		return docs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ClearCollection(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockRepository) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	return m.Called(ctx, filters).Error(0)
}

func (m *MockRepository) Ready() bool {
	return true
}

// stubEmbedder 固定维度的确定性嵌入
type stubEmbedder struct {
	fail bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, errEmbedderDown
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 3)
		for j, r := range text {
			vec[j%3] += float32(r) / 1000
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimensions() int {
	return 3
}

func (s *stubEmbedder) Ready() bool {
	return !s.fail
}
