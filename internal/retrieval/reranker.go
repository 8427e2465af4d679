package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/metrics"
)

// 重排序默认保留的文档数
const DefaultRerankTopK = 3

// ScoreProvider 批量打分接口，交叉编码模型的抽象
type ScoreProvider interface {
	// Score 为每个(query, document)对返回相关性分数，与输入等长同序
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	Ready() bool
}

// Reranker 检索后的候选精排接口
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []Document, topK int) []Document
}

// NoopReranker 不打分，只按给定顺序截断
type NoopReranker struct{}

func (n *NoopReranker) Rerank(ctx context.Context, query string, documents []Document, topK int) []Document {
	if topK <= 0 {
		topK = DefaultRerankTopK
	}
	if len(documents) > topK {
		return documents[:topK]
	}
	return documents
}

// CrossEncoderReranker 用交叉编码分数对候选精排
// 打分失败时退化为截断前topK个候选，不影响流程
type CrossEncoderReranker struct {
	provider ScoreProvider
}

// NewCrossEncoderReranker 创建交叉编码重排序器
func NewCrossEncoderReranker(provider ScoreProvider) *CrossEncoderReranker {
	return &CrossEncoderReranker{provider: provider}
}

func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, documents []Document, topK int) []Document {
	if topK <= 0 {
		topK = DefaultRerankTopK
	}
	if len(documents) == 0 {
		return []Document{}
	}

	start := time.Now()
	defer func() {
		metrics.RerankDuration.Observe(time.Since(start).Seconds())
	}()

	contents := make([]string, len(documents))
	for i, doc := range documents {
		contents[i] = doc.Content
	}

	scores, err := r.provider.Score(ctx, query, contents)
	if err != nil || len(scores) != len(documents) {
		logger.Warn("rerank scoring failed, keeping fused order",
			zap.Error(err),
			zap.Int("candidates", len(documents)))
		if len(documents) > topK {
			return documents[:topK]
		}
		return documents
	}

	ranked := make([]Document, len(documents))
	copy(ranked, documents)
	for i := range ranked {
		ranked[i].RerankScore = float64Ptr(scores[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := *ranked[i].RerankScore, *ranked[j].RerankScore
		if si == sj {
			return ranked[i].ID < ranked[j].ID
		}
		return si > sj
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}
