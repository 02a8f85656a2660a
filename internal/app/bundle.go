// Package app assembles the shared Service bundle every cmd/knowthis
// subcommand builds from (knowthis/SPEC_FULL.md, "§6.4 CLI surface":
// "global singletons become a Service value").
package app

import (
	"context"
	"fmt"
	"log/slog"

	"knowthis/internal/chatclient"
	"knowthis/internal/config"
	"knowthis/internal/embedding"
	"knowthis/internal/enhancer"
	"knowthis/internal/ingestion"
	"knowthis/internal/ratelimit"
	"knowthis/internal/rpcserver"
	"knowthis/internal/search"
	"knowthis/internal/tools"
	"knowthis/internal/vectorstore"
	"knowthis/internal/webhook"
)

// Bundle holds every constructed dependency. Subcommands wire only the
// pieces they need instead of tearing this struct apart.
type Bundle struct {
	Config   *config.Config
	Chat     *chatclient.Client
	Embedder *embedding.Client
	Enhancer *enhancer.Enhancer
	Store    vectorstore.Store
	State    *ingestion.Store
	Worker   *ingestion.Worker
	Search   *search.Service
	Tools    *tools.Registry
}

// Build constructs every dependency from cfg. It never starts background
// goroutines; that is left to the caller (serve/ingestion/search-once each
// start a different subset).
func Build(ctx context.Context, cfg *config.Config, statePath string) (*Bundle, error) {
	chatGovernor := ratelimit.NewChatGovernor(cfg.ChatRateLimitPerMinute)
	embedGovernor := ratelimit.NewEmbeddingGovernor()

	chat := chatclient.New(cfg.ChatBotToken, chatGovernor)
	embedder := embedding.New(cfg.EmbedAPIKey, embedGovernor)

	prompt, err := config.LoadPrompt(cfg.EnhancerPromptPath)
	if err != nil {
		return nil, fmt.Errorf("load enhancer prompt: %w", err)
	}
	enh := enhancer.New(cfg.EmbedAPIKey, embedGovernor, prompt)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	state, err := ingestion.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("open ingestion state: %w", err)
	}

	worker := ingestion.New(chat, embedder, store, state, cfg.IngestionConcurrency)

	cache, err := buildCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("build response cache: %w", err)
	}
	svc := search.New(enh, embedder, store, chat, cache, cfg.ChatWorkspaceDomain)

	registry := tools.NewRegistry(svc, chat, store, state)

	return &Bundle{
		Config:   cfg,
		Chat:     chat,
		Embedder: embedder,
		Enhancer: enh,
		Store:    store,
		State:    state,
		Worker:   worker,
		Search:   svc,
		Tools:    registry,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	if cfg.UsesRemoteVectorStore() {
		store, err := vectorstore.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.VectorIndexName)
		if err != nil {
			return nil, err
		}
		return vectorstore.Instrument(store), nil
	}
	slog.Info("VECTOR_API_KEY not set, using local file-backed vector store")
	store, err := vectorstore.NewLocalStore("data/vectors.ndjson")
	if err != nil {
		return nil, err
	}
	return vectorstore.Instrument(store), nil
}

func buildCache(cfg *config.Config) (search.ResponseCache, error) {
	if cfg.RedisURL == "" {
		return search.NewMemoryCache(), nil
	}
	return search.NewRedisCache(cfg.RedisURL)
}

// NewRPCServer builds the C9 request server plus its session store.
func NewRPCServer(b *Bundle) (*rpcserver.Server, *rpcserver.SessionStore, error) {
	sessions, err := rpcserver.NewSessionStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	srv := rpcserver.New(b.Tools, sessions, b.Config.APIKeys, b.Config.AllowedOrigins, b.Chat, b.Store)
	return srv, sessions, nil
}

// NewWebhookHandler builds the canvas-update webhook handler.
func NewWebhookHandler(b *Bundle) *webhook.Handler {
	return webhook.NewHandler(b.Config.CanvasWebhookSecret, b.Worker)
}
