package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// memoryPoint 内存后端的单条记录
type memoryPoint struct {
	chunk EmbeddedChunk
}

// MemoryBackend 纯内存向量后端，测试与单机场景使用
type MemoryBackend struct {
	mu         sync.RWMutex
	collection string
	vectorSize int
	points     map[string]memoryPoint
	ready      bool
}

// NewMemoryBackend 创建内存向量后端
func NewMemoryBackend(collection string, vectorSize int) *MemoryBackend {
	return &MemoryBackend{
		collection: collection,
		vectorSize: vectorSize,
		points:     make(map[string]memoryPoint),
	}
}

func (m *MemoryBackend) EnsureCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		m.points = make(map[string]memoryPoint)
	}
	m.ready = true
	return nil
}

func (m *MemoryBackend) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if m.vectorSize > 0 && len(c.Embedding) != m.vectorSize {
			return fmt.Errorf("vector size mismatch: want %d, got %d", m.vectorSize, len(c.Embedding))
		}
		m.points[c.ID] = memoryPoint{chunk: c}
	}
	return nil
}

func (m *MemoryBackend) Query(ctx context.Context, embedding []float32, limit int, filters map[string]string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Document, 0, limit)
	for _, p := range m.points {
		if !metadataMatches(p.chunk.Metadata, filters) {
			continue
		}
		score := cosineSimilarity(embedding, p.chunk.Embedding)
		results = append(results, Document{
			ID:       p.chunk.ID,
			Content:  p.chunk.Content,
			Score:    score,
			Metadata: p.chunk.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryBackend) ScrollAll(ctx context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0, len(m.points))
	for _, p := range m.points {
		docs = append(docs, Document{
			ID:       p.chunk.ID,
			Content:  p.chunk.Content,
			Metadata: p.chunk.Metadata,
		})
		if len(docs) >= scrollLimit {
			break
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryBackend) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]memoryPoint)
	return nil
}

func (m *MemoryBackend) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	if len(filters) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if metadataMatches(p.chunk.Metadata, filters) {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryBackend) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// metadataMatches 元数据精确匹配，多字段取AND
func metadataMatches(meta ChunkMetadata, filters map[string]string) bool {
	for key, want := range filters {
		if metadataField(meta, key) != want {
			return false
		}
	}
	return true
}

// metadataField 按过滤键取元数据字段值，未知键返回空串
func metadataField(meta ChunkMetadata, key string) string {
	switch key {
	case "author":
		return meta.Author
	case "document_type":
		return meta.DocumentType
	case "document_id":
		return meta.DocumentID
	case "source":
		return meta.Source
	case "source_type":
		return meta.SourceType
	case "title":
		return meta.Title
	case "section":
		return meta.Section
	case "language":
		return meta.Language
	case "user_id":
		return meta.UserID
	default:
		return ""
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
