package di

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/aihub/rag-go/internal/chat"
	"github.com/aihub/rag-go/internal/config"
	"github.com/aihub/rag-go/internal/dashscope"
	"github.com/aihub/rag-go/internal/memory"
	"github.com/aihub/rag-go/internal/retrieval"
)

// repositoriesOut 两个检索仓库：知识库与长期对话记忆各占一个集合
type repositoriesOut struct {
	dig.Out

	Knowledge retrieval.Repository `name:"knowledge"`
	Chat      retrieval.Repository `name:"chat_history"`
}

type retrieverIn struct {
	dig.In

	Expander  *retrieval.QueryExpander
	SelfQuery *retrieval.SelfQueryExtractor
	Embedder  retrieval.Embedder
	Knowledge retrieval.Repository `name:"knowledge"`
	Reranker  retrieval.Reranker
	Config    *config.Config
}

type memoryIn struct {
	dig.In

	Redis    *redis.Client
	Counter  memory.TokenCounter
	Embedder retrieval.Embedder
	Chat     retrieval.Repository `name:"chat_history"`
	Config   *config.Config
}

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		if config.AppConfig == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return config.AppConfig, nil
	}); err != nil {
		return err
	}

	// 注册Redis客户端
	if err := container.Provide(func(cfg *config.Config) (*redis.Client, error) {
		rdb := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			DB:   cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rdb, nil
	}); err != nil {
		return err
	}

	// 注册token计数器
	if err := container.Provide(func(cfg *config.Config) (memory.TokenCounter, error) {
		return memory.NewTiktokenCounter(cfg.Memory.TokenEncoding)
	}); err != nil {
		return err
	}

	// 注册嵌入与生成
	if err := container.Provide(func(cfg *config.Config) retrieval.Embedder {
		return retrieval.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) retrieval.TextGenerator {
		return retrieval.NewOpenAIGenerator(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	}); err != nil {
		return err
	}

	// 注册查询改写
	if err := container.Provide(func(cfg *config.Config, generator retrieval.TextGenerator) *retrieval.QueryExpander {
		return retrieval.NewQueryExpander(generator, cfg.Expansion.NumQueries)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(generator retrieval.TextGenerator) *retrieval.SelfQueryExtractor {
		return retrieval.NewSelfQueryExtractor(generator)
	}); err != nil {
		return err
	}

	// 注册重排序
	if err := container.Provide(func(cfg *config.Config) retrieval.Reranker {
		if !cfg.Rerank.Enabled {
			return &retrieval.NoopReranker{}
		}
		service := dashscope.NewService(cfg.Rerank.DashScopeAPIKey)
		if service == nil {
			return &retrieval.NoopReranker{}
		}
		return retrieval.NewCrossEncoderReranker(retrieval.NewDashScopeScorer(service, cfg.Rerank.Model))
	}); err != nil {
		return err
	}

	// 注册检索仓库
	if err := container.Provide(func(cfg *config.Config) (repositoriesOut, error) {
		knowledge, err := newRepository(cfg, cfg.Store.Collection)
		if err != nil {
			return repositoriesOut{}, err
		}
		chatHistory, err := newRepository(cfg, cfg.Store.ChatCollection)
		if err != nil {
			return repositoriesOut{}, err
		}
		return repositoriesOut{Knowledge: knowledge, Chat: chatHistory}, nil
	}); err != nil {
		return err
	}

	// 注册检索编排器
	if err := container.Provide(func(in retrieverIn) *retrieval.Retriever {
		return retrieval.NewRetriever(
			in.Expander,
			in.SelfQuery,
			in.Embedder,
			in.Knowledge,
			in.Reranker,
			retrieval.RetrieverOptions{TopK: in.Config.Search.TopK},
		)
	}); err != nil {
		return err
	}

	// 注册记忆服务
	if err := container.Provide(func(in memoryIn) *memory.Service {
		return memory.NewService(in.Redis, in.Counter, in.Embedder, in.Chat, memory.Options{
			MaxContextTokens: in.Config.Memory.MaxContextTokens,
		})
	}); err != nil {
		return err
	}

	// 注册对话服务
	if err := container.Provide(func(retriever *retrieval.Retriever, mem *memory.Service, generator retrieval.TextGenerator) *chat.Service {
		return chat.NewService(retriever, mem, generator)
	}); err != nil {
		return err
	}

	return nil
}

func newRepository(cfg *config.Config, collection string) (retrieval.Repository, error) {
	backend, err := retrieval.NewVectorBackend(retrieval.BackendOptions{
		Provider:       cfg.Store.Provider,
		Collection:     collection,
		VectorSize:     cfg.Store.VectorSize,
		QdrantEndpoint: cfg.Store.Qdrant.Endpoint,
		QdrantAPIKey:   cfg.Store.Qdrant.APIKey,
		QdrantUseTLS:   cfg.Store.Qdrant.TLS,
		MilvusAddress:  cfg.Store.Milvus.Address,
		MilvusDatabase: cfg.Store.Milvus.Database,
		MilvusUsername: cfg.Store.Milvus.Username,
		MilvusPassword: cfg.Store.Milvus.Password,
		MilvusUseTLS:   cfg.Store.Milvus.TLS,
	})
	if err != nil {
		return nil, err
	}
	return retrieval.NewHybridRepository(backend, retrieval.HybridRepositoryOptions{
		FusionK:        cfg.Search.FusionK,
		PoolMultiplier: cfg.Search.PoolMultiplier,
	}), nil
}
