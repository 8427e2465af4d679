package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/metrics"
)

var (
	// ErrServiceUnavailable 嵌入或向量后端不可用，检索无法进行
	ErrServiceUnavailable = errors.New("retrieval service unavailable")
)

// Retriever 检索编排器
// 串联查询改写、并发多路召回、条件过滤回退与重排序
type Retriever struct {
	expander   QueryTransformer
	selfQuery  QueryTransformer
	embedder   Embedder
	repository Repository
	reranker   Reranker
	topK       int
}

// RetrieverOptions 编排器配置，零值时使用默认
type RetrieverOptions struct {
	TopK int
}

// NewRetriever 创建检索编排器
func NewRetriever(
	expander QueryTransformer,
	selfQuery QueryTransformer,
	embedder Embedder,
	repository Repository,
	reranker Reranker,
	opts RetrieverOptions,
) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultRerankTopK
	}
	return &Retriever{
		expander:   expander,
		selfQuery:  selfQuery,
		embedder:   embedder,
		repository: repository,
		reranker:   reranker,
		topK:       opts.TopK,
	}
}

// Retrieve 执行完整检索管道，返回最终的topK文档
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Document, error) {
	if !r.embedder.Ready() || !r.repository.Ready() {
		return nil, ErrServiceUnavailable
	}

	start := time.Now()
	query := &Query{Original: question}

	// 查询改写阶段全部失败软化，检索总能继续
	if r.expander != nil {
		r.expander.Transform(ctx, query)
	}
	if r.selfQuery != nil {
		r.selfQuery.Transform(ctx, query)
	}

	variants := query.SearchQueries()
	embeddings, err := r.embedder.EmbedBatch(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("embed query variants: %w", err)
	}

	pool, err := r.gather(ctx, variants, embeddings, query.Filters)
	if err != nil {
		return nil, err
	}

	// 过滤条件命中零候选时放开过滤重试一次
	if len(pool) == 0 && query.Filters != nil {
		logger.Info("filtered search returned nothing, retrying without filters",
			zap.Any("filters", query.Filters))
		metrics.FallbackSearches.Inc()
		pool, err = r.gather(ctx, variants, embeddings, nil)
		if err != nil {
			return nil, err
		}
	}

	var final []Document
	if r.reranker != nil {
		final = r.reranker.Rerank(ctx, query.Original, pool, r.topK)
	} else {
		final = pool
		if len(final) > r.topK {
			final = final[:r.topK]
		}
	}

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	logger.Info("retrieval finished",
		zap.String("query", question),
		zap.Int("variants", len(variants)),
		zap.Int("candidates", len(pool)),
		zap.Int("results", len(final)),
		zap.Duration("elapsed", time.Since(start)))
	return final, nil
}

// gather 对每个查询变体并发召回，按首次出现去重合并为候选池
func (r *Retriever) gather(ctx context.Context, variants []string, embeddings [][]float32, filters map[string]string) ([]Document, error) {
	perVariant := make([][]Document, len(variants))
	errs := make([]error, len(variants))

	var wg sync.WaitGroup
	for i := range variants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results, err := r.repository.Search(ctx, SearchRequest{
				QueryText:      variants[i],
				QueryEmbedding: embeddings[i],
				TopK:           r.topK,
				Filters:        filters,
			})
			if err != nil {
				errs[i] = err
				return
			}
			perVariant[i] = results
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("hybrid search: %w", err)
		}
	}

	seen := make(map[string]struct{})
	pool := make([]Document, 0, r.topK*len(variants))
	for _, results := range perVariant {
		for _, doc := range results {
			if _, ok := seen[doc.ID]; ok {
				continue
			}
			seen[doc.ID] = struct{}{}
			pool = append(pool, doc)
		}
	}
	return pool, nil
}
