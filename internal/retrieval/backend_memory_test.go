package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendQueryOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("test", 2)
	require.NoError(t, backend.EnsureCollection(ctx))

	require.NoError(t, backend.Upsert(ctx, []EmbeddedChunk{
		{ID: "x", Content: "x axis", Embedding: []float32{1, 0}},
		{ID: "y", Content: "y axis", Embedding: []float32{0, 1}},
		{ID: "d", Content: "diagonal", Embedding: []float32{1, 1}},
	}))

	docs, err := backend.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "x", docs[0].ID)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
	assert.Equal(t, "d", docs[1].ID)
}

func TestMemoryBackendVectorSizeMismatch(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("test", 2)

	err := backend.Upsert(ctx, []EmbeddedChunk{
		{ID: "bad", Embedding: []float32{1, 2, 3}},
	})
	assert.Error(t, err)
}

func TestMemoryBackendFilterAndDelete(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("test", 2)
	require.NoError(t, backend.Upsert(ctx, []EmbeddedChunk{
		{ID: "a", Embedding: []float32{1, 0}, Metadata: ChunkMetadata{Author: "carl", DocumentType: "pdf"}},
		{ID: "b", Embedding: []float32{1, 0}, Metadata: ChunkMetadata{Author: "carl", DocumentType: "md"}},
		{ID: "c", Embedding: []float32{1, 0}, Metadata: ChunkMetadata{Author: "jane", DocumentType: "pdf"}},
	}))

	// 多字段过滤取AND
	docs, err := backend.Query(ctx, []float32{1, 0}, 10, map[string]string{
		"author":        "carl",
		"document_type": "pdf",
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)

	require.NoError(t, backend.DeleteByFilter(ctx, map[string]string{"author": "carl"}))
	all, err := backend.ScrollAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].ID)

	require.NoError(t, backend.DeleteAll(ctx))
	all, err = backend.ScrollAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNewVectorBackendUnsupportedProvider(t *testing.T) {
	_, err := NewVectorBackend(BackendOptions{Provider: "chroma"})
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
