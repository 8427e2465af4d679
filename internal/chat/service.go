package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/memory"
	"github.com/aihub/rag-go/internal/metrics"
	"github.com/aihub/rag-go/internal/retrieval"
)

// 生成失败时返回给用户的兜底回答
const generationFailedReply = "I'm sorry, I encountered an error while trying to generate a response."

// 检索依赖整体不可用时直接拒答，不做无上下文回答
const serviceUnavailableReply = "Sorry, the knowledge service is currently unavailable. Please try again later."

// 长期记忆召回的片段数
const defaultRecallTopK = 3

// Service 对话服务
// 每轮对话依次做知识库检索、长期记忆召回、提示组装、生成与记忆回写
type Service struct {
	retriever *retrieval.Retriever
	mem       *memory.Service
	generator retrieval.TextGenerator
}

// NewService 创建对话服务
func NewService(retriever *retrieval.Retriever, mem *memory.Service, generator retrieval.TextGenerator) *Service {
	return &Service{
		retriever: retriever,
		mem:       mem,
		generator: generator,
	}
}

// ProcessMessage 处理一轮用户消息并返回回答
// 检索依赖不可用时拒答，局部检索失败降级为无上下文回答，生成失败返回兜底回答
func (s *Service) ProcessMessage(ctx context.Context, userID, prompt string) (string, error) {
	kbChunks, err := s.retrieveKnowledge(ctx, prompt)
	if err != nil {
		logger.Error("retrieval dependencies unavailable, declining to answer",
			zap.String("user_id", userID), zap.Error(err))
		metrics.ChatTurns.WithLabelValues("unavailable").Inc()
		return serviceUnavailableReply, nil
	}
	chatChunks := s.recallPastMessages(ctx, userID, prompt)

	history, err := s.mem.History(ctx, userID)
	if err != nil {
		logger.Warn("failed to load chat history, proceeding without it",
			zap.String("user_id", userID), zap.Error(err))
		history = nil
	}

	messages := BuildChatPrompt(history, prompt, kbChunks, chatChunks)
	answer, err := s.generator.Complete(ctx, messages)
	if err != nil {
		logger.Error("chat generation failed",
			zap.String("user_id", userID), zap.Error(err))
		metrics.ChatTurns.WithLabelValues("error").Inc()
		return generationFailedReply, nil
	}

	s.persistTurn(ctx, userID, prompt, answer)
	metrics.ChatTurns.WithLabelValues("ok").Inc()
	return answer, nil
}

// ClearHistory 清除用户的两级对话记忆
func (s *Service) ClearHistory(ctx context.Context, userID string) memory.ClearResult {
	return s.mem.ClearHistory(ctx, userID)
}

func (s *Service) retrieveKnowledge(ctx context.Context, prompt string) ([]string, error) {
	docs, err := s.retriever.Retrieve(ctx, prompt)
	if errors.Is(err, retrieval.ErrServiceUnavailable) {
		return nil, err
	}
	if err != nil {
		logger.Warn("knowledge retrieval failed, answering without document context", zap.Error(err))
		return nil, nil
	}
	chunks := make([]string, 0, len(docs))
	for _, doc := range docs {
		chunks = append(chunks, doc.Content)
	}
	return chunks, nil
}

func (s *Service) recallPastMessages(ctx context.Context, userID, prompt string) []string {
	docs, err := s.mem.Recall(ctx, userID, prompt, defaultRecallTopK)
	if err != nil {
		logger.Warn("long-term memory recall failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	chunks := make([]string, 0, len(docs))
	for _, doc := range docs {
		chunks = append(chunks, doc.Content)
	}
	return chunks
}

// persistTurn 把本轮问答写回记忆，失败只记日志
func (s *Service) persistTurn(ctx context.Context, userID, prompt, answer string) {
	if result := s.mem.AppendMessage(ctx, userID, retrieval.RoleUser, prompt); result.ShortTerm != nil || result.LongTerm != nil {
		logger.Warn("failed to persist user message",
			zap.String("user_id", userID),
			zap.Errors("errors", []error{result.ShortTerm, result.LongTerm}))
	}
	if result := s.mem.AppendMessage(ctx, userID, retrieval.RoleAssistant, answer); result.ShortTerm != nil || result.LongTerm != nil {
		logger.Warn("failed to persist assistant message",
			zap.String("user_id", userID),
			zap.Errors("errors", []error{result.ShortTerm, result.LongTerm}))
	}
}
