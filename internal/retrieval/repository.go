package retrieval

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/metrics"
)

// 融合前每路召回的候选池倍数
const DefaultPoolMultiplier = 2

// Repository 混合检索仓库接口
type Repository interface {
	// Initialize 建集合并重建词法快照，幂等
	Initialize(ctx context.Context) error
	// AddDocuments 按ID写入（同ID覆盖），写入后重建词法快照
	// 返回实际写入的ID列表，空输入返回空列表
	AddDocuments(ctx context.Context, chunks []EmbeddedChunk) ([]string, error)
	// Search 稠密与词法并发召回后按倒数排名融合
	Search(ctx context.Context, req SearchRequest) ([]Document, error)
	// ClearCollection 清空集合，只报告成功与否
	ClearCollection(ctx context.Context) bool
	// DeleteByFilter 按元数据条件删除
	DeleteByFilter(ctx context.Context, filters map[string]string) error
	Ready() bool
}

// SearchRequest 单次混合检索请求
type SearchRequest struct {
	QueryText      string
	QueryEmbedding []float32
	TopK           int
	Filters        map[string]string // 只作用于稠密通道
}

// HybridRepository 在向量后端之上叠加内存BM25快照的混合检索仓库
// 快照由仓库独占，任何写操作完成后整体重建并原子替换
type HybridRepository struct {
	backend        VectorBackend
	fusionK        int
	poolMultiplier int

	index   atomic.Pointer[BM25Index]
	writeMu sync.Mutex
}

// HybridRepositoryOptions 仓库调优参数，零值时使用默认
type HybridRepositoryOptions struct {
	FusionK        int
	PoolMultiplier int
}

// NewHybridRepository 创建混合检索仓库
func NewHybridRepository(backend VectorBackend, opts HybridRepositoryOptions) *HybridRepository {
	if opts.FusionK <= 0 {
		opts.FusionK = DefaultFusionK
	}
	if opts.PoolMultiplier <= 0 {
		opts.PoolMultiplier = DefaultPoolMultiplier
	}
	r := &HybridRepository{
		backend:        backend,
		fusionK:        opts.FusionK,
		poolMultiplier: opts.PoolMultiplier,
	}
	r.index.Store(NewBM25Index(nil))
	return r
}

func (r *HybridRepository) Initialize(ctx context.Context) error {
	if err := r.backend.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if err := r.rebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	return nil
}

func (r *HybridRepository) AddDocuments(ctx context.Context, chunks []EmbeddedChunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.backend.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("upsert documents: %w", err)
	}
	if err := r.rebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("rebuild lexical index: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	logger.Info("documents added",
		zap.Int("count", len(ids)),
		zap.Int("index_size", r.index.Load().Len()))
	return ids, nil
}

func (r *HybridRepository) Search(ctx context.Context, req SearchRequest) ([]Document, error) {
	if req.TopK <= 0 {
		return nil, nil
	}
	poolSize := req.TopK * r.poolMultiplier

	var (
		wg          sync.WaitGroup
		dense       []Document
		lexical     []Document
		denseFailed bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results, err := r.backend.Query(ctx, req.QueryEmbedding, poolSize, req.Filters)
		if err != nil {
			// 稠密通道故障降级为空召回，失败信息只进日志
			logger.Warn("dense search failed", zap.Error(err))
			metrics.HybridSearches.WithLabelValues("degraded").Inc()
			denseFailed = true
			return
		}
		dense = results
	}()
	go func() {
		defer wg.Done()
		lexical = r.index.Load().Search(req.QueryText, poolSize)
	}()
	wg.Wait()

	fused := FuseReciprocalRank([][]Document{dense, lexical}, r.fusionK)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}
	if !denseFailed {
		metrics.HybridSearches.WithLabelValues("ok").Inc()
	}
	return fused, nil
}

func (r *HybridRepository) ClearCollection(ctx context.Context) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.backend.DeleteAll(ctx); err != nil {
		logger.Error("clear collection failed", zap.Error(err))
		return false
	}
	r.index.Store(NewBM25Index(nil))
	logger.Info("collection cleared")
	return true
}

func (r *HybridRepository) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	if len(filters) == 0 {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.backend.DeleteByFilter(ctx, filters); err != nil {
		return fmt.Errorf("delete by filter: %w", err)
	}
	if err := r.rebuildIndex(ctx); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	return nil
}

func (r *HybridRepository) Ready() bool {
	return r.backend.Ready()
}

// rebuildIndex 全量拉取后端文档并原子替换词法快照
func (r *HybridRepository) rebuildIndex(ctx context.Context) error {
	docs, err := r.backend.ScrollAll(ctx)
	if err != nil {
		return err
	}
	r.index.Store(NewBM25Index(docs))
	return nil
}
