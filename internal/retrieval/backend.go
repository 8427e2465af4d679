package retrieval

import (
	"context"
	"errors"
	"fmt"
)

// 向量后端全量扫描的上限，与BM25快照的内存规模匹配
const scrollLimit = 10000

var (
	// ErrUnsupportedBackend 配置了不支持的向量后端类型（启动期致命错误）
	ErrUnsupportedBackend = errors.New("unsupported vector backend type")
)

// VectorBackend 向量后端的底层抽象
// 仓库层在其上叠加BM25快照与融合逻辑，后端实现只关心点的读写
type VectorBackend interface {
	// EnsureCollection 确保集合存在且维度正确，幂等
	EnsureCollection(ctx context.Context) error
	// Upsert 按ID写入（同ID覆盖）
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error
	// Query 过滤相似度检索，filters为元数据精确匹配、多字段AND
	Query(ctx context.Context, embedding []float32, limit int, filters map[string]string) ([]Document, error)
	// ScrollAll 拉取集合内全部点（不含向量），用于快照重建
	ScrollAll(ctx context.Context) ([]Document, error)
	// DeleteAll 清空集合
	DeleteAll(ctx context.Context) error
	// DeleteByFilter 按元数据条件删除
	DeleteByFilter(ctx context.Context, filters map[string]string) error
	Ready() bool
}

// BackendOptions 向量后端通用配置
type BackendOptions struct {
	Provider   string // qdrant | milvus | memory
	Collection string
	VectorSize int

	// Qdrant
	QdrantEndpoint string
	QdrantAPIKey   string
	QdrantUseTLS   bool

	// Milvus
	MilvusAddress  string
	MilvusDatabase string
	MilvusUsername string
	MilvusPassword string
	MilvusUseTLS   bool
}

// NewVectorBackend 按配置创建向量后端，同一时刻只有一种实现生效
func NewVectorBackend(opts BackendOptions) (VectorBackend, error) {
	switch opts.Provider {
	case "qdrant":
		return NewQdrantBackend(opts), nil
	case "milvus":
		return NewMilvusBackend(opts)
	case "memory", "":
		return NewMemoryBackend(opts.Collection, opts.VectorSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Provider)
	}
}
