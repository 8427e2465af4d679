package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantBackend 基于HTTP API的Qdrant向量后端
type QdrantBackend struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
	vectorSize int
}

// NewQdrantBackend 创建Qdrant向量后端
func NewQdrantBackend(opts BackendOptions) *QdrantBackend {
	endpoint := opts.QdrantEndpoint
	if endpoint == "" {
		scheme := "http"
		if opts.QdrantUseTLS {
			scheme = "https"
		}
		endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(endpoint, "http") {
		scheme := "http"
		if opts.QdrantUseTLS {
			scheme = "https"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	collection := opts.Collection
	if collection == "" {
		collection = "rag_chunks"
	}
	vectorSize := opts.VectorSize
	if vectorSize == 0 {
		vectorSize = 1536
	}

	return &QdrantBackend{
		client:     &http.Client{Timeout: 10 * time.Second},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     opts.QdrantAPIKey,
		collection: collection,
		vectorSize: vectorSize,
	}
}

func (s *QdrantBackend) EnsureCollection(ctx context.Context) error {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		return nil
	}
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": "Cosine",
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s failed: %s", s.collection, resp.Status)
	}
	return nil
}

func (s *QdrantBackend) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("embedding is empty for chunk %s", c.ID)
		}
		points = append(points, map[string]interface{}{
			"id":     c.ID,
			"vector": c.Embedding,
			"payload": map[string]interface{}{
				"content":  c.Content,
				"metadata": c.Metadata,
			},
		})
	}

	payload := map[string]interface{}{"points": points}
	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *QdrantBackend) Query(ctx context.Context, embedding []float32, limit int, filters map[string]string) ([]Document, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 10
	}

	body := map[string]interface{}{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if filter := buildQdrantFilter(filters); filter != nil {
		body["filter"] = filter
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(searchResp.Result))
	for _, p := range searchResp.Result {
		docs = append(docs, p.toDocument())
	}
	return docs, nil
}

func (s *QdrantBackend) ScrollAll(ctx context.Context) ([]Document, error) {
	body := map[string]interface{}{
		"limit":        scrollLimit,
		"with_payload": true,
		"with_vectors": false,
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", s.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant scroll failed: %s %s", resp.Status, string(raw))
	}

	var scrollResp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(scrollResp.Result.Points))
	for _, p := range scrollResp.Result.Points {
		doc := p.toDocument()
		doc.Score = 0
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *QdrantBackend) DeleteAll(ctx context.Context) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{},
		},
	}
	return s.deletePoints(ctx, body)
}

func (s *QdrantBackend) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	filter := buildQdrantFilter(filters)
	if filter == nil {
		return nil
	}
	return s.deletePoints(ctx, map[string]interface{}{"filter": filter})
}

func (s *QdrantBackend) deletePoints(ctx context.Context, body map[string]interface{}) error {
	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant delete failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *QdrantBackend) Ready() bool {
	return s.client != nil
}

func (s *QdrantBackend) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}

// buildQdrantFilter 元数据精确匹配条件，多字段取AND
func buildQdrantFilter(filters map[string]string) map[string]interface{} {
	if len(filters) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filters))
	for key, value := range filters {
		must = append(must, map[string]interface{}{
			"key": "metadata." + key,
			"match": map[string]interface{}{
				"value": value,
			},
		})
	}
	return map[string]interface{}{"must": must}
}

type qdrantPoint struct {
	ID      interface{}     `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

func (p qdrantPoint) toDocument() Document {
	var payload struct {
		Content  string        `json:"content"`
		Metadata ChunkMetadata `json:"metadata"`
	}
	if len(p.Payload) > 0 {
		json.Unmarshal(p.Payload, &payload)
	}

	return Document{
		ID:       fmt.Sprintf("%v", p.ID),
		Content:  payload.Content,
		Score:    p.Score,
		Metadata: payload.Metadata,
	}
}
