package retrieval

import (
	"github.com/google/uuid"
)

// Role 对话角色，遵循ChatML规范
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage 单条对话消息
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChunkMetadata 分块元数据，随向量一起存入后端payload
// 所有阶段共用同一结构，避免跨阶段的临时字典合并
type ChunkMetadata struct {
	Source         string   `json:"source,omitempty"`
	PageNumber     int      `json:"page_number,omitempty"`
	ChunkIndex     int      `json:"chunk_index,omitempty"`
	DocumentID     string   `json:"document_id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Section        string   `json:"section,omitempty"`
	Author         string   `json:"author,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Language       string   `json:"language,omitempty"`
	SourceType     string   `json:"source_type,omitempty"`
	DocumentType   string   `json:"document_type,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
	UserID         string   `json:"user_id,omitempty"` // 聊天记忆条目的归属用户
}

// EmbeddedChunk 已向量化的分块，写入向量后端的单位
type EmbeddedChunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// NewEmbeddedChunk 创建分块，自动分配ID
func NewEmbeddedChunk(content string, embedding []float32, metadata ChunkMetadata) EmbeddedChunk {
	return EmbeddedChunk{
		ID:        uuid.NewString(),
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

// Document 检索候选文档
// Score 始终是向量相似度，是唯一的权威相似度指标；
// BM25Score/RRFScore/RerankScore 是各阶段附加的辅助分数，
// 三者互相独立，便于观测和调试，任何阶段都不得覆盖 Score
type Document struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`

	BM25Score   *float64 `json:"bm25_score,omitempty"`
	RRFScore    *float64 `json:"rrf_score,omitempty"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Query 用户查询在检索管道中的状态
type Query struct {
	Original string            `json:"original"`
	Expanded []string          `json:"expanded,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"` // nil表示无过滤条件
}

// SearchQueries 返回用于检索的查询列表
// 扩展失败或未扩展时退化为仅原始查询，检索永远不会拿到空列表
func (q *Query) SearchQueries() []string {
	if len(q.Expanded) > 0 {
		return q.Expanded
	}
	return []string{q.Original}
}

func float64Ptr(v float64) *float64 {
	return &v
}
