package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"

	"tradeassist/internal/agents"
	"tradeassist/internal/chat"
	"tradeassist/internal/config"
	"tradeassist/internal/ingest"
	"tradeassist/internal/llm"
	openaillm "tradeassist/internal/llm/openai"
	"tradeassist/internal/memory"
	"tradeassist/internal/objectstore"
	"tradeassist/internal/observability"
	"tradeassist/internal/persistence"
	"tradeassist/internal/prompts"
	"tradeassist/internal/tools"
	"tradeassist/internal/vectorstore"
)

const version = "1.2.0"

// services is the dependency container built once at startup. Optional
// members are nil when their configuration is absent; call sites degrade
// gracefully.
type services struct {
	cfg      *config.Config
	store    persistence.Store
	vectors  vectorstore.Store
	objects  objectstore.Store
	provider llm.Provider
	embedder llm.Embedder
	registry *prompts.Registry
	memory   *memory.Service
	ingest   *ingest.Service
	orch     *chat.Orchestrator
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	s := &services{cfg: cfg}

	client := openaillm.New(cfg.OpenAI)
	s.provider = client
	s.embedder = client

	if cfg.Database.Enabled() {
		store, err := persistence.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		s.store = store
	} else {
		pterm.Warning.Println("DATABASE_URL not set, using in-memory store (dev only)")
		s.store = persistence.NewMemory()
	}
	if err := s.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init database schema: %w", err)
	}

	if cfg.Qdrant.Enabled() {
		vectors, err := vectorstore.NewQdrant(cfg.Qdrant)
		if err != nil {
			// The vector store backs optional features only; keep serving.
			log.Warn().Err(err).Msg("vector store unavailable, memory and tools degraded")
		} else {
			s.vectors = vectors
		}
	}

	if cfg.S3.Enabled() {
		objects, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("object store unavailable, upload and ingest disabled")
		} else {
			s.objects = objects
		}
	}

	s.registry = prompts.NewRegistry(cfg.Prompts)

	if s.vectors != nil {
		s.memory = memory.NewService(s.vectors, s.embedder, s.provider, s.registry, cfg.MemoryCollection, cfg.OpenAI.Model)
		if err := s.memory.EnsureCollection(ctx); err != nil {
			log.Warn().Err(err).Msg("memory collection init failed, memory disabled")
			s.memory = nil
		}
	}

	if s.vectors != nil && s.objects != nil {
		s.ingest = ingest.NewService(s.objects, s.vectors, s.embedder, cfg.Converter.URL)
	}

	factory := &agents.Factory{
		Registry: s.registry,
		Model:    cfg.OpenAI.Model,
		Version:  cfg.Prompts.Version,
		Label:    cfg.Prompts.Label,
	}
	if s.vectors != nil {
		factory.Knowledge = &tools.KnowledgeSearchTool{Store: s.vectors, Embedder: s.embedder, Collection: cfg.KnowledgeCollection}
		factory.UserDoc = &tools.UserDocumentSearchTool{Store: s.vectors, Embedder: s.embedder, Collection: cfg.UserDocCollection}
	}
	if cfg.WebSearch.Enabled() {
		factory.Web = tools.NewWebSearchTool(cfg.WebSearch.URL)
	}

	s.orch = &chat.Orchestrator{
		Store:             s.store,
		Memory:            s.memory,
		Factory:           factory,
		Runner:            agents.NewRunner(s.provider),
		DevAutoCreateUser: cfg.DevAutoCreateUser,
	}
	return s, nil
}

func main() {
	_ = godotenv.Load()
	observability.InitLogger("tradeassist.log", "info")

	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Printf("config error: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	svcs, err := buildServices(ctx, cfg)
	if err != nil {
		pterm.Error.Printf("startup error: %v\n", err)
		log.Fatal().Err(err).Msg("failed to build services")
	}
	defer svcs.store.Close()
	if svcs.vectors != nil {
		defer svcs.vectors.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	registerRoutes(e, svcs)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	pterm.Success.Printf("trade assistant gateway listening on %s\n", addr)
	if err := e.Start(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
