package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/config"
	"github.com/scrypster/charles/internal/engine"
	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/internal/storage"
	"github.com/scrypster/charles/internal/storage/postgres"
	"github.com/scrypster/charles/internal/storage/sqlite"
)

// loadCorpus returns the override corpus when one is configured, otherwise
// the built-in priors.
func loadCorpus(cfg *config.Config) (*storage.Corpus, error) {
	if cfg.Storage.PriorsPath != "" {
		return storage.LoadCorpus(cfg.Storage.PriorsPath)
	}
	return storage.DefaultCorpus()
}

func openIndex(cfg *config.Config, logger *zap.Logger) (storage.VectorIndex, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewVectorIndex(cfg.Storage.PostgresDSN, logger)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewVectorIndex(filepath.Join(cfg.Storage.DataPath, "charles.db"), logger)
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (llm.EmbeddingGenerator, error) {
	apiKey := cfg.Embedding.APIKey
	if apiKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		apiKey = cfg.LLM.APIKey
	}
	return llm.NewEmbeddingGenerator(llm.ProviderConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     apiKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Timeout:    cfg.LLM.Timeout,
		Dimensions: cfg.Embedding.Dimensions,
	}, logger)
}

// openVectorStore opens the configured index and seeds it. A seeding failure
// is returned; callers treat it as fatal.
func openVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.VectorStore, *storage.Corpus, error) {
	corpus, err := loadCorpus(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load priors: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger.Named("embedder"))
	if err != nil {
		return nil, nil, err
	}

	index, err := openIndex(cfg, logger.Named(cfg.Storage.StorageEngine))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	store := storage.NewVectorStore(index, embedder, logger.Named("vectors"))
	if cfg.Storage.Seed != 0 {
		store.SetSeed(cfg.Storage.Seed)
	}

	seeded, err := store.Initialize(ctx, corpus)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	logger.Info("vector store ready",
		zap.String("engine", cfg.Storage.StorageEngine),
		zap.Int("seeded", seeded),
		zap.Int("embedding_size", store.EmbeddingSize()))
	return store, corpus, nil
}

func backoffFromConfig(cfg *config.Config) llm.Backoff {
	return llm.Backoff{
		Initial:     cfg.Agent.RetryInitial,
		Max:         cfg.Agent.RetryMaxDelay,
		MaxAttempts: cfg.Agent.RetryMaxAttempts,
	}
}

// providers holds the three model roles.
type providers struct {
	fast, best, chat llm.ChatProvider
}

func newProviders(cfg *config.Config, logger *zap.Logger) (providers, error) {
	build := func(model string, jsonMode bool) (llm.ChatProvider, error) {
		return llm.NewChatProvider(llm.ProviderConfig{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    model,
			Timeout:  cfg.LLM.Timeout,
			JSONMode: jsonMode,
		}, logger.Named(model))
	}

	var p providers
	var err error
	if p.fast, err = build(cfg.LLM.FastModel, true); err != nil {
		return p, err
	}
	if p.best, err = build(cfg.LLM.BestModel, true); err != nil {
		return p, err
	}
	if p.chat, err = build(cfg.LLM.ChatModel, false); err != nil {
		return p, err
	}
	return p, nil
}

// buildSession populates a generative model from store and wraps it in a
// session answering through p.chat.
func buildSession(ctx context.Context, cfg *config.Config, store engine.PriorSampler, corpus *storage.Corpus, p providers, logger *zap.Logger) (*session.Session, error) {
	model := engine.NewGenerativeModel(store, corpus, engine.PopulateConfig{
		TotalMinEntries:       cfg.Agent.MinTotalEntries,
		MinEntriesPerCategory: cfg.Agent.MinEntriesPerCategory,
		MaxSampleAttempts:     cfg.Agent.MaxSampleAttempts,
	}, logger.Named("model"))

	result, err := model.Populate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to populate generative model: %w", err)
	}
	logger.Info("generative model populated",
		zap.Int("added", result.Added),
		zap.Int("size", model.Len()),
		zap.Strings("starved", result.Starved))

	backoff := backoffFromConfig(cfg)
	service := engine.NewActiveInferenceService(
		llm.NewStructuredGenerator(p.fast, backoff, logger.Named("select")),
		llm.NewStructuredGenerator(p.best, backoff, logger.Named("update")),
		logger.Named("inference"),
	)
	agent := engine.NewMetaAgent(model, service, logger.Named("agent"))

	return session.New(agent, p.chat, session.Config{
		TickInterval: cfg.Agent.TickInterval,
		ErrorDelay:   cfg.Agent.ErrorDelay,
		ShowPackets:  cfg.Response.ShowPackets,
		Responder: chat.ResponderConfig{
			SentenceInterval: cfg.Response.SentenceInterval,
			Backoff:          backoff,
		},
	}, logger.Named("session")), nil
}
