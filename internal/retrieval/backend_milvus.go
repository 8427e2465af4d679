package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusBackend 基于官方SDK的Milvus向量后端
type MilvusBackend struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
}

// NewMilvusBackend 创建Milvus向量后端
func NewMilvusBackend(opts BackendOptions) (*MilvusBackend, error) {
	address := opts.MilvusAddress
	if address == "" {
		address = "localhost:19530"
	}
	database := opts.MilvusDatabase
	if database == "" {
		database = "default"
	}
	collection := opts.Collection
	if collection == "" {
		collection = "rag_chunks"
	}
	vectorSize := opts.VectorSize
	if vectorSize == 0 {
		vectorSize = 1536
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       address,
			DBName:        database,
			Username:      opts.MilvusUsername,
			Password:      opts.MilvusPassword,
			EnableTLSAuth: opts.MilvusUseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusBackend{
		milvusClient: milvusClient,
		collection:   collection,
		vectorSize:   vectorSize,
	}, nil
}

func (s *MilvusBackend) EnsureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "hybrid retrieval chunks",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{
						"max_length": "64",
					},
				},
				{
					Name:     "content",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "65535",
					},
				},
				{
					Name:     "metadata",
					DataType: entity.FieldTypeJSON,
				},
				{
					Name:     "vector",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", s.vectorSize),
					},
				},
			},
		}

		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		var index entity.Index
		var indexErr error
		index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if indexErr != nil {
			index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
			if indexErr != nil {
				return fmt.Errorf("failed to create index: %w", indexErr)
			}
		}
		if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
			return fmt.Errorf("failed to create index for collection %s: %w", s.collection, err)
		}
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *MilvusBackend) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	metadatas := make([][]byte, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.vectorSize {
			return fmt.Errorf("vector size mismatch: want %d, got %d", s.vectorSize, len(c.Embedding))
		}
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		ids = append(ids, c.ID)
		contents = append(contents, c.Content)
		metadatas = append(metadatas, raw)
		vectors = append(vectors, c.Embedding)
	}

	idColumn := entity.NewColumnVarChar("id", ids)
	contentColumn := entity.NewColumnVarChar("content", contents)
	metadataColumn := entity.NewColumnJSONBytes("metadata", metadatas)
	vectorColumn := entity.NewColumnFloatVector("vector", s.vectorSize, vectors)

	if _, err := s.milvusClient.Upsert(ctx, s.collection, "", idColumn, contentColumn, metadataColumn, vectorColumn); err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to flush collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *MilvusBackend) Query(ctx context.Context, embedding []float32, limit int, filters map[string]string) ([]Document, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 10
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	queryVector := entity.FloatVector(embedding)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		buildMilvusExpr(filters),
		[]string{"content", "metadata"},
		[]entity.Vector{queryVector},
		"vector",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return nil, nil
	}

	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	ids := varcharColumn(result.IDs)
	contents, metadatas := resultFields(result.Fields)

	docs := make([]Document, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		doc := Document{}
		if i < len(ids) {
			doc.ID = ids[i]
		}
		if i < len(contents) {
			doc.Content = contents[i]
		}
		if i < len(metadatas) {
			json.Unmarshal(metadatas[i], &doc.Metadata)
		}
		if i < len(result.Scores) {
			doc.Score = float64(result.Scores[i])
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *MilvusBackend) ScrollAll(ctx context.Context) ([]Document, error) {
	resultSet, err := s.milvusClient.Query(
		ctx,
		s.collection,
		[]string{},
		`id != ""`,
		[]string{"id", "content", "metadata"},
		client.WithLimit(scrollLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}

	var ids, contents []string
	var metadatas [][]byte
	for _, field := range resultSet {
		switch field.Name() {
		case "id":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				ids = col.Data()
			}
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		case "metadata":
			if col, ok := field.(*entity.ColumnJSONBytes); ok {
				metadatas = col.Data()
			}
		}
	}

	docs := make([]Document, 0, len(ids))
	for i, id := range ids {
		doc := Document{ID: id}
		if i < len(contents) {
			doc.Content = contents[i]
		}
		if i < len(metadatas) {
			json.Unmarshal(metadatas[i], &doc.Metadata)
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MilvusBackend) DeleteAll(ctx context.Context) error {
	return s.deleteByExpr(ctx, `id != ""`)
}

func (s *MilvusBackend) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	expr := buildMilvusExpr(filters)
	if expr == "" {
		return nil
	}
	return s.deleteByExpr(ctx, expr)
}

func (s *MilvusBackend) deleteByExpr(ctx context.Context, expr string) error {
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to flush after delete: %w", err)
	}
	return nil
}

func (s *MilvusBackend) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

// buildMilvusExpr 元数据精确匹配表达式，多字段取AND
func buildMilvusExpr(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, key := range keys {
		conditions = append(conditions, fmt.Sprintf(`metadata["%s"] == %s`, key, strconv.Quote(filters[key])))
	}
	return strings.Join(conditions, " && ")
}

func varcharColumn(col entity.Column) []string {
	if c, ok := col.(*entity.ColumnVarChar); ok {
		return c.Data()
	}
	return nil
}

func resultFields(fields []entity.Column) (contents []string, metadatas [][]byte) {
	for _, field := range fields {
		switch field.Name() {
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		case "metadata":
			if col, ok := field.(*entity.ColumnJSONBytes); ok {
				metadatas = col.Data()
			}
		}
	}
	return contents, metadatas
}
