package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/rag-go/internal/chat"
	"github.com/aihub/rag-go/internal/config"
	"github.com/aihub/rag-go/internal/di"
	"github.com/aihub/rag-go/internal/logger"
	"github.com/aihub/rag-go/internal/retrieval"
)

type repositoriesIn struct {
	dig.In

	Knowledge retrieval.Repository `name:"knowledge"`
	Chat      retrieval.Repository `name:"chat_history"`
}

func main() {
	// .env不存在时忽略，生产环境直接用环境变量
	godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(config.AppConfig.Server.Env); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container, err := di.InitContainer()
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	ctx := context.Background()
	if err := container.Invoke(func(in repositoriesIn) error {
		if err := in.Knowledge.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize knowledge repository: %w", err)
		}
		if err := in.Chat.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize chat history repository: %w", err)
		}
		return nil
	}); err != nil {
		logger.Fatal("failed to initialize repositories", zap.Error(err))
	}

	startMetricsServer()

	if err := container.Invoke(runChatLoop); err != nil {
		logger.Fatal("chat loop failed", zap.Error(err))
	}
}

// startMetricsServer 在后台暴露Prometheus指标
func startMetricsServer() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9091"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func runChatLoop(service *chat.Service) error {
	userID := os.Getenv("RAG_USER_ID")
	if userID == "" {
		userID = "local"
	}

	fmt.Println("Conversational RAG ready. Type a question, /clear to wipe memory, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			result := service.ClearHistory(context.Background(), userID)
			if result.ShortTerm != nil || result.LongTerm != nil {
				fmt.Printf("history partially cleared (short-term: %v, long-term: %v)\n",
					result.ShortTerm, result.LongTerm)
			} else {
				fmt.Println("history cleared")
			}
			continue
		}

		answer, err := service.ProcessMessage(context.Background(), userID, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(answer)
	}
}
