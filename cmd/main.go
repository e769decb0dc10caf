package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/audit"
	"github.com/paladugusuresh/graphrag/internal/graphrag/executor"
	"github.com/paladugusuresh/graphrag/internal/graphrag/generator"
	"github.com/paladugusuresh/graphrag/internal/graphrag/guardrail"
	"github.com/paladugusuresh/graphrag/internal/graphrag/mapper"
	"github.com/paladugusuresh/graphrag/internal/graphrag/pipeline"
	"github.com/paladugusuresh/graphrag/internal/graphrag/planner"
	"github.com/paladugusuresh/graphrag/internal/graphrag/ratelimit"
	"github.com/paladugusuresh/graphrag/internal/graphrag/retriever"
	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/summarizer"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/graphrag/validator"
	httpx "github.com/paladugusuresh/graphrag/internal/http"
	httpH "github.com/paladugusuresh/graphrag/internal/http/handlers"
	httpMW "github.com/paladugusuresh/graphrag/internal/http/middleware"
	"github.com/paladugusuresh/graphrag/internal/observability"
	"github.com/paladugusuresh/graphrag/internal/platform/envutil"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Observability
	ctx := context.Background()
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "graphrag",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()
	if observability.Enabled() {
		observability.Init()
	}

	// Policy
	policy := types.PolicyFromEnv()
	mode := schema.Mode{
		AppMode:     strings.TrimSpace(os.Getenv("APP_MODE")),
		AllowWrites: envutil.Bool("ALLOW_WRITES", false),
	}

	// Neo4j
	log.Info("Connecting to Neo4j...")
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	defer graph.Close(ctx)

	// LLM provider
	var llm openai.Client
	if envutil.Bool("DEV_MODE", false) {
		log.Warn("DEV_MODE on, using the offline LLM stub")
		llm = openai.NewStub()
	} else {
		llm, err = openai.NewClient(log)
		if err != nil {
			log.Error("Could not init OpenAI client", "error", err)
			os.Exit(1)
		}
	}

	// Rate limiter
	var store ratelimit.Store
	if redisStore, err := ratelimit.NewRedisStoreFromEnv(); err != nil {
		log.Warn("Redis unavailable, using in-process rate limit store", "error", err)
		store = ratelimit.NewMemoryStore()
	} else {
		store = redisStore
	}
	limiter := ratelimit.New(store, policy.LLMRateLimitPerMinute, log)
	limitedLLM := ratelimit.WrapClient(llm, limiter, "llm")

	// Schema catalog
	catalog := schema.NewCatalog(graph, log)
	synonyms, err := schema.LoadSynonyms(os.Getenv("SYNONYMS_PATH"))
	if err != nil {
		log.Error("Could not load synonyms", "error", err)
		os.Exit(1)
	}
	embedder := schema.NewEmbedder(graph, llm, mode, log)

	// Introspection is read-only, so every mode builds its allow-list
	// snapshot at boot. Until one lands, queries answer SCHEMA_UNAVAILABLE.
	if _, _, err := catalog.Refresh(ctx); err != nil {
		log.Warn("Schema snapshot bootstrap failed", "error", err)
	}
	if mode.WritesAllowed() && envutil.Bool("SCHEMA_REFRESH_ON_BOOT", false) {
		if snap := catalog.Current(); snap != nil {
			if _, err := embedder.Sync(ctx, snap.AllowList, synonyms); err != nil {
				log.Warn("Schema embedding sync on boot failed", "error", err)
			}
		}
	}

	// Audit sink
	sink, err := audit.NewFromEnv(log)
	if err != nil {
		log.Error("Could not open audit sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	// Pipeline
	semanticMapper := mapper.New(embedder, synonyms, policy.RetrieverTopK, log)
	pipe := pipeline.New(pipeline.Config{
		Snapshots:  catalog,
		Guard:      guardrail.NewChecker(log),
		Planner:    planner.New(limitedLLM, semanticMapper, policy, log),
		Generator:  generator.New(limitedLLM, log),
		Validator:  validator.New(policy, log),
		Executor:   executor.New(graph, policy, log),
		Retriever:  retriever.New(graph, llm, policy, log),
		Summarizer: summarizer.New(limitedLLM, log),
		Sink:       sink,
		Policy:     policy,
		Log:        log,
	})

	// Router
	cfg := httpx.RouterConfig{
		QueryHandler:  httpH.NewQueryHandler(pipe, log),
		HealthHandler: httpH.NewHealthHandler(),
		Log:           log,
	}
	if mode.WritesAllowed() {
		adminAuth, err := httpMW.NewAdminAuth(log)
		if err != nil {
			log.Error("Admin mode requires an admin token secret", "error", err)
			os.Exit(1)
		}
		cfg.AdminAuth = adminAuth
		cfg.AdminHandler = httpH.NewSchemaAdminHandler(catalog, embedder, synonyms, log)
	}

	addr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	log.Info("Starting server", "addr", addr, "app_mode", mode.AppMode)
	srv := httpx.NewServer(cfg)
	if err := srv.Run(addr); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
