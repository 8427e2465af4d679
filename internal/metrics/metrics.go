// Package metrics 检索与记忆管道的Prometheus指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetrievalDuration 完整检索管道耗时
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_retrieval_duration_seconds",
		Help:    "Duration of the full retrieval pipeline",
		Buckets: prometheus.DefBuckets,
	})

	// FallbackSearches 过滤命中零候选后的无过滤重试次数
	FallbackSearches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_fallback_searches_total",
		Help: "Number of searches retried without metadata filters",
	})

	// HybridSearches 混合检索次数，按通道统计
	HybridSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_hybrid_searches_total",
		Help: "Total number of hybrid search executions",
	}, []string{"status"})

	// RerankDuration 重排序阶段耗时
	RerankDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rag_rerank_duration_seconds",
		Help:    "Duration of cross-encoder reranking",
		Buckets: prometheus.DefBuckets,
	})

	// MemoryPrunedMessages 短期记忆因超出预算被裁剪的消息数
	MemoryPrunedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_memory_pruned_messages_total",
		Help: "Number of chat messages evicted by the token budget",
	})

	// ChatTurns 对话轮次，按结果统计
	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_chat_turns_total",
		Help: "Total number of chat turns processed",
	}, []string{"status"})
)
