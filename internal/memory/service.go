package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/metrics"
	"github.com/aihub/rag-go/internal/retrieval"
)

const (
	memoryKeyPrefix = "memory:chat:"
	// 短期记忆的默认token预算
	DefaultMaxContextTokens = 2048
)

// WriteResult 双写结果，两条通道的失败互相独立
type WriteResult struct {
	ShortTerm error
	LongTerm  error
}

// ClearResult 清除结果，两条通道的失败互相独立
type ClearResult struct {
	ShortTerm error
	LongTerm  error
}

// Service 对话记忆服务
// 短期记忆是Redis里按token预算裁剪的消息列表，
// 长期记忆把每条消息向量化后写入独立的向量集合
type Service struct {
	rdb       *redis.Client
	counter   TokenCounter
	embedder  retrieval.Embedder
	longTerm  retrieval.Repository
	maxTokens int
}

// Options 记忆服务配置，零值时使用默认
type Options struct {
	MaxContextTokens int
}

// NewService 创建记忆服务，longTerm为nil时长期记忆不可用
func NewService(rdb *redis.Client, counter TokenCounter, embedder retrieval.Embedder, longTerm retrieval.Repository, opts Options) *Service {
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = DefaultMaxContextTokens
	}
	if longTerm == nil {
		logger.Warn("memory service created without long-term store, long-term memory disabled")
	}
	return &Service{
		rdb:       rdb,
		counter:   counter,
		embedder:  embedder,
		longTerm:  longTerm,
		maxTokens: opts.MaxContextTokens,
	}
}

func memoryKey(userID string) string {
	return memoryKeyPrefix + userID
}

// History 读取用户的短期对话历史，旧消息在前
func (s *Service) History(ctx context.Context, userID string) ([]retrieval.ChatMessage, error) {
	items, err := s.rdb.LRange(ctx, memoryKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	messages := make([]retrieval.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg retrieval.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// 损坏的条目跳过，不让单条坏数据毁掉整段历史
			logger.Warn("skipping corrupt history entry", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AppendMessage 把一条消息同时写入短期与长期记忆
// 任一通道失败不阻断另一通道，结果分别报告
func (s *Service) AppendMessage(ctx context.Context, userID string, role retrieval.Role, content string) WriteResult {
	var result WriteResult

	result.LongTerm = s.appendLongTerm(ctx, userID, role, content)
	result.ShortTerm = s.appendShortTerm(ctx, userID, role, content)

	return result
}

func (s *Service) appendLongTerm(ctx context.Context, userID string, role retrieval.Role, content string) error {
	if s.longTerm == nil {
		return nil
	}

	// 文本带上角色前缀，让向量语义包含说话方
	text := fmt.Sprintf("%s: %s", capitalizeRole(role), content)
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logger.Error("failed to embed chat message for long-term memory",
			zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("embed message: %w", err)
	}

	chunk := retrieval.NewEmbeddedChunk(text, embedding, retrieval.ChunkMetadata{
		UserID:     userID,
		SourceType: "chat_history",
	})
	if _, err := s.longTerm.AddDocuments(ctx, []retrieval.EmbeddedChunk{chunk}); err != nil {
		logger.Error("failed to ingest chat message into long-term memory",
			zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

func (s *Service) appendShortTerm(ctx context.Context, userID string, role retrieval.Role, content string) error {
	payload, err := json.Marshal(retrieval.ChatMessage{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := memoryKey(userID)
	if err := s.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return s.pruneByTokens(ctx, key, userID)
}

// pruneByTokens 从最旧一端弹出消息，直到总token数落回预算内
func (s *Service) pruneByTokens(ctx context.Context, key, userID string) error {
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read history for pruning: %w", err)
	}

	totalTokens := 0
	for _, item := range items {
		var msg retrieval.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		totalTokens += s.counter.Count(msg.Content)
	}

	for totalTokens > s.maxTokens {
		removed, err := s.rdb.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}

		var msg retrieval.ChatMessage
		if err := json.Unmarshal([]byte(removed), &msg); err == nil {
			totalTokens -= s.counter.Count(msg.Content)
		}
		metrics.MemoryPrunedMessages.Inc()
		logger.Warn("history over token budget, pruned oldest message",
			zap.String("user_id", userID),
			zap.Int("total_tokens", totalTokens))
	}
	return nil
}

// Recall 从长期记忆中检索与查询相关的历史片段
func (s *Service) Recall(ctx context.Context, userID, query string, topK int) ([]retrieval.Document, error) {
	if s.longTerm == nil {
		return nil, nil
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return s.longTerm.Search(ctx, retrieval.SearchRequest{
		QueryText:      query,
		QueryEmbedding: embedding,
		TopK:           topK,
		Filters:        map[string]string{"user_id": userID},
	})
}

// ClearHistory 同时清除两级记忆，失败分别报告
func (s *Service) ClearHistory(ctx context.Context, userID string) ClearResult {
	var result ClearResult

	if err := s.rdb.Del(ctx, memoryKey(userID)).Err(); err != nil {
		result.ShortTerm = fmt.Errorf("clear short-term history: %w", err)
	}

	if s.longTerm != nil {
		if err := s.longTerm.DeleteByFilter(ctx, map[string]string{"user_id": userID}); err != nil {
			result.LongTerm = fmt.Errorf("clear long-term history: %w", err)
		}
	}

	if result.ShortTerm == nil && result.LongTerm == nil {
		logger.Info("cleared chat history", zap.String("user_id", userID))
	}
	return result
}

func capitalizeRole(role retrieval.Role) string {
	r := string(role)
	if r == "" {
		return r
	}
	return strings.ToUpper(r[:1]) + r[1:]
}
