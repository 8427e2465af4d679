package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aihub/rag-go/internal/dashscope"
)

// DashScopeScorer 使用阿里云DashScope Rerank API做交叉编码打分
type DashScopeScorer struct {
	service *dashscope.Service
	model   string
}

// NewDashScopeScorer 创建DashScope打分器
func NewDashScopeScorer(service *dashscope.Service, model string) *DashScopeScorer {
	if model == "" {
		model = "gte-rerank"
	}
	return &DashScopeScorer{
		service: service,
		model:   model,
	}
}

func (s *DashScopeScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if len(documents) == 0 {
		return nil, errors.New("documents cannot be empty")
	}
	if s.service == nil || !s.service.Ready() {
		return nil, errors.New("dashscope service not initialized")
	}

	resp, err := s.service.CreateRerank(ctx, dashscope.RerankRequest{
		Model:     s.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	if len(resp.Output.Results) == 0 {
		return nil, errors.New("rerank response empty")
	}

	scores := make([]float64, len(documents))
	for _, result := range resp.Output.Results {
		if result.Index >= 0 && result.Index < len(scores) {
			scores[result.Index] = result.RelevanceScore
		}
	}
	return scores, nil
}

func (s *DashScopeScorer) Ready() bool {
	return s.service != nil && s.service.Ready()
}
