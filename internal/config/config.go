package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	LLM       LLMConfig       `validate:"required"`
	Embedding EmbeddingConfig `validate:"required"`
	Rerank    RerankConfig
	Expansion ExpansionConfig
	Search    SearchConfig
	Memory    MemoryConfig
	Store     VectorStoreConfig `validate:"required"`
}

type ServerConfig struct {
	Env string
}

type RedisConfig struct {
	Host string `validate:"required"`
	Port string `validate:"required"`
	DB   int
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string `validate:"required"`
}

type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string `validate:"required"`
}

type RerankConfig struct {
	Enabled         bool
	Model           string
	DashScopeAPIKey string
}

type ExpansionConfig struct {
	NumQueries int `validate:"min=1"`
}

type SearchConfig struct {
	TopK           int `validate:"min=1"`
	FusionK        int `validate:"min=1"`
	PoolMultiplier int `validate:"min=1"`
}

type MemoryConfig struct {
	MaxContextTokens int    `validate:"min=1"`
	TokenEncoding    string `validate:"required"`
}

type VectorStoreConfig struct {
	Provider       string `validate:"required,oneof=qdrant milvus memory"`
	Collection     string `validate:"required"`
	ChatCollection string `validate:"required"`
	VectorSize     int    `validate:"min=1"`
	Qdrant         QdrantConfig
	Milvus         MilvusConfig
}

type QdrantConfig struct {
	Endpoint string
	APIKey   string
	TLS      bool
}

type MilvusConfig struct {
	Address  string
	Database string
	Username string
	Password string
	TLS      bool
}

var AppConfig *Config

// LoadConfig 加载配置，默认值、环境变量、校验依次生效
func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.env", "development")
	viper.SetDefault("rag.redis.host", "localhost")
	viper.SetDefault("rag.redis.port", "6379")
	viper.SetDefault("rag.redis.db", 0)

	viper.SetDefault("rag.llm.base_url", "")
	viper.SetDefault("rag.llm.model", "gpt-4o-mini")
	viper.SetDefault("rag.embedding.base_url", "")
	viper.SetDefault("rag.embedding.model", "text-embedding-3-small")
	viper.SetDefault("rag.rerank.enabled", false)
	viper.SetDefault("rag.rerank.model", "gte-rerank")

	viper.SetDefault("rag.expansion.num_queries", 3)
	viper.SetDefault("rag.search.top_k", 3)
	viper.SetDefault("rag.search.fusion_k", 60)
	viper.SetDefault("rag.search.pool_multiplier", 2)
	viper.SetDefault("rag.memory.max_context_tokens", 2048)
	viper.SetDefault("rag.memory.token_encoding", "cl100k_base")

	viper.SetDefault("rag.vector_store.provider", "memory")
	viper.SetDefault("rag.vector_store.collection", "rag_chunks")
	viper.SetDefault("rag.vector_store.chat_collection", "chat_history")
	viper.SetDefault("rag.vector_store.vector_size", 1536)
	viper.SetDefault("rag.vector_store.qdrant.endpoint", "http://localhost:6333")
	viper.SetDefault("rag.vector_store.qdrant.tls", false)
	viper.SetDefault("rag.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("rag.vector_store.milvus.database", "default")
	viper.SetDefault("rag.vector_store.milvus.tls", false)

	// 读取环境变量
	viper.SetEnvPrefix("RAG")
	viper.AutomaticEnv()

	if env := os.Getenv("ENV"); env != "" {
		viper.Set("server.env", env)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("rag.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		viper.Set("rag.redis.port", port)
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			viper.Set("rag.redis.db", n)
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("rag.llm.api_key", apiKey)
		viper.Set("rag.embedding.api_key", apiKey)
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		viper.Set("rag.llm.base_url", baseURL)
		viper.Set("rag.embedding.base_url", baseURL)
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		viper.Set("rag.llm.model", model)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		viper.Set("rag.embedding.model", model)
	}
	if apiKey := os.Getenv("DASHSCOPE_API_KEY"); apiKey != "" {
		viper.Set("rag.rerank.dashscope_api_key", apiKey)
		viper.Set("rag.rerank.enabled", true)
	}
	if provider := os.Getenv("VECTOR_STORE_PROVIDER"); provider != "" {
		viper.Set("rag.vector_store.provider", provider)
	}
	if endpoint := os.Getenv("QDRANT_ENDPOINT"); endpoint != "" {
		viper.Set("rag.vector_store.qdrant.endpoint", endpoint)
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		viper.Set("rag.vector_store.qdrant.api_key", apiKey)
	}
	if address := os.Getenv("MILVUS_ADDRESS"); address != "" {
		viper.Set("rag.vector_store.milvus.address", address)
	}

	cfg := &Config{
		Server: ServerConfig{
			Env: viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Host: viper.GetString("rag.redis.host"),
			Port: viper.GetString("rag.redis.port"),
			DB:   viper.GetInt("rag.redis.db"),
		},
		LLM: LLMConfig{
			BaseURL: viper.GetString("rag.llm.base_url"),
			APIKey:  viper.GetString("rag.llm.api_key"),
			Model:   viper.GetString("rag.llm.model"),
		},
		Embedding: EmbeddingConfig{
			BaseURL: viper.GetString("rag.embedding.base_url"),
			APIKey:  viper.GetString("rag.embedding.api_key"),
			Model:   viper.GetString("rag.embedding.model"),
		},
		Rerank: RerankConfig{
			Enabled:         viper.GetBool("rag.rerank.enabled"),
			Model:           viper.GetString("rag.rerank.model"),
			DashScopeAPIKey: viper.GetString("rag.rerank.dashscope_api_key"),
		},
		Expansion: ExpansionConfig{
			NumQueries: viper.GetInt("rag.expansion.num_queries"),
		},
		Search: SearchConfig{
			TopK:           viper.GetInt("rag.search.top_k"),
			FusionK:        viper.GetInt("rag.search.fusion_k"),
			PoolMultiplier: viper.GetInt("rag.search.pool_multiplier"),
		},
		Memory: MemoryConfig{
			MaxContextTokens: viper.GetInt("rag.memory.max_context_tokens"),
			TokenEncoding:    viper.GetString("rag.memory.token_encoding"),
		},
		Store: VectorStoreConfig{
			Provider:       viper.GetString("rag.vector_store.provider"),
			Collection:     viper.GetString("rag.vector_store.collection"),
			ChatCollection: viper.GetString("rag.vector_store.chat_collection"),
			VectorSize:     viper.GetInt("rag.vector_store.vector_size"),
			Qdrant: QdrantConfig{
				Endpoint: viper.GetString("rag.vector_store.qdrant.endpoint"),
				APIKey:   viper.GetString("rag.vector_store.qdrant.api_key"),
				TLS:      viper.GetBool("rag.vector_store.qdrant.tls"),
			},
			Milvus: MilvusConfig{
				Address:  viper.GetString("rag.vector_store.milvus.address"),
				Database: viper.GetString("rag.vector_store.milvus.database"),
				Username: viper.GetString("rag.vector_store.milvus.username"),
				Password: viper.GetString("rag.vector_store.milvus.password"),
				TLS:      viper.GetBool("rag.vector_store.milvus.tls"),
			},
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = cfg
	return nil
}
