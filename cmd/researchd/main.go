// Command researchd serves the deep-research assistant over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/clarifier"
	"github.com/probelabs/deepresearch/internal/config"
	"github.com/probelabs/deepresearch/internal/confidence"
	"github.com/probelabs/deepresearch/internal/fetch"
	"github.com/probelabs/deepresearch/internal/httpapi"
	"github.com/probelabs/deepresearch/internal/httpx"
	"github.com/probelabs/deepresearch/internal/llm"
	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/orchestrator"
	"github.com/probelabs/deepresearch/internal/planner"
	"github.com/probelabs/deepresearch/internal/pool"
	"github.com/probelabs/deepresearch/internal/scenario"
	"github.com/probelabs/deepresearch/internal/search"
	"github.com/probelabs/deepresearch/internal/session"
	"github.com/probelabs/deepresearch/internal/streaming"
	"github.com/probelabs/deepresearch/internal/synthesizer"
	"github.com/probelabs/deepresearch/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Configuration failed", zap.Error(err))
	}

	httpPool := httpx.NewPool(cfg.MaxConcurrentRequests, logger)
	defer httpPool.Close()

	model := llm.NewClient(llm.ClientOptions{
		BaseURL:   cfg.LLMAPIBase,
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.LLMModel,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.LLMRateLimit,
	}, httpPool, logger)

	searcher := search.NewSerperClient(cfg.SearchAPIBase, cfg.SearchAPIKey, cfg.APITimeout, httpPool, logger)
	fetcher := fetch.NewJinaReader(cfg.FetchAPIBase, cfg.FetchAPIKey, cfg.JinaTimeout, cfg.JinaSkipDomains, httpPool, logger)

	deepPlanner := scenario.NewPlanner()
	if cfg.ScenarioRulesPath != "" {
		rules, err := scenario.LoadRules(cfg.ScenarioRulesPath)
		if err != nil {
			logger.Fatal("Scenario rules failed to load",
				zap.String("path", cfg.ScenarioRulesPath), zap.Error(err))
		}
		deepPlanner = scenario.NewPlannerWithRules(rules)
	}

	scorer := confidence.NewScorer(model, cfg.EnableLLMConfidence, cfg.LLMConfidenceWeight, logger)
	tool := worker.NewResearchTool(searcher, fetcher, deepPlanner, scorer, worker.ToolConfig{
		MaxConcurrentFetches: cfg.MaxConcurrentRequests,
		MaxContentChars:      cfg.MaxContentChars,
		MaxSearchResults:     cfg.MaxSearchResults,
	}, logger)

	workerCfg := worker.Config{
		MaxTurns:    cfg.MaxAgentTurns,
		HardTimeout: cfg.AgentExecutionTimeout,
		SoftExit:    cfg.SoftExitTimeout,
		ToolTimeout: cfg.ToolTimeout,
	}
	workers := pool.New(pool.NewWorkerFactory(func(id int) *worker.Worker {
		return worker.New(id, model, tool, workerCfg, logger)
	}), cfg.MaxParallelSubagents, logger)

	orch := orchestrator.New(
		clarifier.New(model, cfg.ConfidenceThreshold, logger),
		planner.New(model, logger),
		workers,
		synthesizer.New(model, logger),
		searcher,
		logger,
	)

	var store session.Store
	if cfg.SessionBackend == "redis" {
		redisStore, err := session.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("Redis unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer func() { _ = redisStore.Close() }()
		store = redisStore
	} else {
		store = session.NewMemoryStore()
	}
	sessions := session.NewManager(store, logger)
	stream := streaming.NewManager(0)

	mux := http.NewServeMux()
	httpapi.NewServer(orch, sessions, stream, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
}
