package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/actor"
	"github.com/xiaot623/gogo/chatd/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatd/internal/adapter/search"
	"github.com/xiaot623/gogo/chatd/internal/augment"
	"github.com/xiaot623/gogo/chatd/internal/config"
	"github.com/xiaot623/gogo/chatd/internal/dispatch"
	"github.com/xiaot623/gogo/chatd/internal/inference"
	"github.com/xiaot623/gogo/chatd/internal/logging"
	"github.com/xiaot623/gogo/chatd/internal/policy"
	"github.com/xiaot623/gogo/chatd/internal/tracing"
	httpserver "github.com/xiaot623/gogo/chatd/internal/transport/http"
	"github.com/xiaot623/gogo/chatd/internal/transport/ws"
)

const evictionInterval = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chatd",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("data_dir", cfg.DataDir),
		zap.String("llm_base_url", cfg.LLMBaseURL),
		zap.Bool("search", cfg.SearchURL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "chatd",
		ExportEndpoint: cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Initialize inference
	llmClient := llm.NewLLMClient(llm.Options{
		Mode:              cfg.Mode,
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	}, logger)

	rules, err := fallbackRules(cfg.FallbackRulesFile)
	if err != nil {
		logger.Fatal("failed to load fallback rules", zap.Error(err))
	}
	inferer := inference.NewClient(llmClient, rules, cfg.LLMTimeout, logger)

	// Initialize search
	var searcher search.Searcher
	if cfg.SearchURL != "" {
		searcher = search.NewClient(cfg.SearchURL, cfg.SearchAPIKey, cfg.SearchTimeout)
		if cfg.RedisURL != "" {
			cache, err := search.NewRedisCache(ctx, cfg.RedisURL)
			if err != nil {
				logger.Warn("search cache unavailable, continuing without it", zap.Error(err))
			} else {
				defer cache.Close()
				searcher = search.NewCachedSearcher(searcher, cache, cfg.SearchCacheTTL, logger)
			}
		}
	}
	pipeline := augment.NewPipeline(searcher, augment.Options{
		MaxResults:   cfg.SearchMaxResults,
		SnippetChars: cfg.SearchSnippetChars,
		Timeout:      cfg.SearchTimeout,
	}, logger)

	// Initialize policy engine
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile, cfg.MaxMessageLength)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	// Initialize actor registry
	registry := dispatch.NewRegistry(dispatch.Config{
		DataDir:     cfg.DataDir,
		IdleTimeout: cfg.ActorIdleTimeout,
		Deps: actor.Deps{
			Inferer:   inferer,
			Augmenter: pipeline,
			Admitter:  policyEngine,
			Logger:    logger,
		},
		Options: actor.Options{
			SystemPrompt:       cfg.SystemPrompt,
			ContextMaxMessages: cfg.ContextMaxMessages,
			HistoryLimit:       cfg.HistoryLimit,
			StoreTimeout:       cfg.StoreTimeout,
			MailboxSize:        cfg.ActorMailboxSize,
		},
	}, logger)
	go registry.RunEvictor(ctx, evictionInterval)

	// Initialize servers
	wsServer := ws.NewServer(registry, ws.Options{
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, logger)
	server := httpserver.NewServer(registry, wsServer, logger)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()
	logger.Info("HTTP server started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("shutting down chatd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown HTTP server gracefully", zap.Error(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to dispose actors", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}

	logger.Info("chatd stopped")
}

// fallbackRules loads the rule table from path, or the built-in table when
// path is empty.
func fallbackRules(path string) (*inference.RuleTable, error) {
	if path == "" {
		return inference.NewRuleTable(inference.DefaultRules), nil
	}
	return inference.LoadRules(path)
}
