package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/regulatory-rag/agents"
	"github.com/sweetpotato0/regulatory-rag/audit"
	auditmongo "github.com/sweetpotato0/regulatory-rag/audit/mongo"
	auditpg "github.com/sweetpotato0/regulatory-rag/audit/postgres"
	auditredis "github.com/sweetpotato0/regulatory-rag/audit/redis"
	"github.com/sweetpotato0/regulatory-rag/cache"
	cacheredis "github.com/sweetpotato0/regulatory-rag/cache/redis"
	"github.com/sweetpotato0/regulatory-rag/config"
	openaiembedder "github.com/sweetpotato0/regulatory-rag/contrib/embedder/openai"
	"github.com/sweetpotato0/regulatory-rag/contrib/provider/claude"
	"github.com/sweetpotato0/regulatory-rag/contrib/provider/gemini"
	"github.com/sweetpotato0/regulatory-rag/contrib/provider/openai"
	"github.com/sweetpotato0/regulatory-rag/contrib/tokenizer/tiktoken"
	pgvector "github.com/sweetpotato0/regulatory-rag/contrib/vector/pg"
	"github.com/sweetpotato0/regulatory-rag/llm"
	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/middleware/limiter"
	"github.com/sweetpotato0/regulatory-rag/middleware/validator"
	"github.com/sweetpotato0/regulatory-rag/orchestrator"
	"github.com/sweetpotato0/regulatory-rag/rag/document"
	"github.com/sweetpotato0/regulatory-rag/rag/generation"
	"github.com/sweetpotato0/regulatory-rag/rag/retriever"
	"github.com/sweetpotato0/regulatory-rag/rag/tokenizer"
	"github.com/sweetpotato0/regulatory-rag/vector"
)

// tiktokenEncoding matches the OpenAI embedding and chat models.
const tiktokenEncoding = "cl100k_base"

// app owns everything built from the configuration.
type app struct {
	orchestrator *orchestrator.Orchestrator
	closers      []func() error
	logger       *slog.Logger
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// build wires the configured backends into an orchestrator. On error every
// resource acquired so far is released.
func build(ctx context.Context, cfg *config.Config, mode agents.Mode, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := a.cacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := openaiembedder.New(openaiembedder.Config{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
	})

	factory, err := a.storeFactory(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}

	svc := retriever.New(embedder,
		retriever.WithTopK(cfg.Retrieval.TopK),
		retriever.WithSimilarityThreshold(cfg.Retrieval.SimilarityThreshold),
		retriever.WithBatchSize(cfg.Embedding.BatchSize),
		retriever.WithStoreFactory(factory),
		retriever.WithCache(store),
	)
	collections, err := loadCollections(cfg)
	if err != nil {
		return nil, err
	}
	if err := svc.Build(ctx, collections...); err != nil {
		return nil, fmt.Errorf("index collections: %w", err)
	}

	client, err := a.llmClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tok, err := newTokenizer(cfg.Retrieval.Tokenizer)
	if err != nil {
		return nil, err
	}

	gen := generation.New(svc, client,
		generation.WithRegulators(regulators(cfg)...),
		generation.WithTokenBudget(tok, cfg.Retrieval.TokenBudget),
	)

	recorder, err := a.recorder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stageMiddleware := []middleware.Middleware{
		validator.NewQueryValidator(cfg.Limits.MaxQueryRunes),
	}
	if cfg.Limits.StageRequestsPerSecond > 0 {
		stageMiddleware = append(stageMiddleware, limiter.New(cfg.Limits.StageRequestsPerSecond, 4))
	}

	opts := []orchestrator.Option{
		orchestrator.WithSummaryMode(mode),
		orchestrator.WithStageMiddleware(stageMiddleware...),
		orchestrator.WithTimeout(cfg.Limits.RunTimeout),
	}
	if recorder != nil {
		opts = append(opts, orchestrator.WithRecorder(recorder))
	}

	a.orchestrator, err = orchestrator.New(orchestrator.Agents{
		Retrieval: agents.NewRetrievalAgent(svc, cfg.CollectionKeys()...),
		Citation:  agents.NewCitationAgent(generation.NewCached(gen, store), cfg.Retrieval.AnswerTopK),
		Summary:   agents.NewSummarizationAgent(),
		Risk:      agents.NewRiskAgent(),
	}, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) cacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "file":
		store, err := cache.NewFileStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return store, nil
	case "redis":
		store := cacheredis.New(&cacheredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Cache.TTL,
		})
		a.onClose(store.Close)
		if err := store.Ping(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *app) storeFactory(ctx context.Context, cfg *config.Config, emb vector.Embedder) (retriever.StoreFactory, error) {
	if cfg.Vector.Backend != "postgres" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.Vector.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}
	a.onClose(db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping vector database: %w", err)
	}
	return func(ctx context.Context, collection string) (vector.VectorStore, error) {
		store, err := pgvector.NewWithDB(ctx, db, &pgvector.PGVectorConfig{
			Dimension: emb.Dimension(),
			TableName: cfg.Vector.TablePrefix + collection,
		})
		if err != nil {
			return nil, fmt.Errorf("open vector table for %s: %w", collection, err)
		}
		// Each build re-indexes the collection from its chunk file.
		if err := store.Clear(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}, nil
}

func (a *app) llmClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	var client llm.Client
	switch cfg.Model.Provider {
	case "claude":
		pc := claude.DefaultConfig(cfg.Model.APIKey, cfg.Model.BaseURL)
		pc.Model = cfg.Model.Name
		pc.MaxTokens = int64(cfg.Model.MaxTokens)
		pc.Temperature = cfg.Model.Temperature
		client = claude.New(pc)
	case "gemini":
		pc := gemini.DefaultConfig(cfg.Model.APIKey)
		pc.Model = cfg.Model.Name
		pc.MaxTokens = int32(cfg.Model.MaxTokens)
		pc.Temperature = float32(cfg.Model.Temperature)
		p, err := gemini.New(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("create gemini provider: %w", err)
		}
		a.onClose(p.Close)
		client = p
	default:
		client = openai.New(&openai.Config{
			APIKey:      cfg.Model.APIKey,
			BaseURL:     cfg.Model.BaseURL,
			Model:       cfg.Model.Name,
			MaxTokens:   int64(cfg.Model.MaxTokens),
			Temperature: cfg.Model.Temperature,
		})
	}
	return llm.NewLimited(client, cfg.Limits.LLMRequestsPerMinute), nil
}

func (a *app) recorder(ctx context.Context, cfg *config.Config) (audit.Recorder, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return audit.NewMemoryRecorder(), nil
	case "postgres":
		pc := auditpg.DefaultConfig()
		pc.DSN = cfg.Audit.PostgresDSN
		r, err := auditpg.New(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("open postgres audit: %w", err)
		}
		a.onClose(r.Close)
		return r, nil
	case "mongo":
		mc := auditmongo.DefaultConfig()
		mc.URI = cfg.Audit.MongoURI
		mc.Database = cfg.Audit.MongoDatabase
		r, err := auditmongo.New(ctx, mc)
		if err != nil {
			return nil, fmt.Errorf("open mongo audit: %w", err)
		}
		a.onClose(func() error { return r.Close(context.Background()) })
		return r, nil
	case "redis":
		r := auditredis.New(auditredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(r.Close)
		if err := r.Ping(ctx); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, nil
	}
}

func newTokenizer(name string) (tokenizer.Tokenizer, error) {
	if name == "tiktoken" {
		tok, err := tiktoken.New(tiktokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding: %w", err)
		}
		return tok, nil
	}
	return tokenizer.NewWordTokenizer(), nil
}

func loadCollections(cfg *config.Config) ([]retriever.Collection, error) {
	out := make([]retriever.Collection, 0, len(cfg.Retrieval.Collections))
	for _, col := range cfg.Retrieval.Collections {
		chunks, err := document.LoadFile(cfg.ChunkPath(col))
		if err != nil {
			return nil, fmt.Errorf("load %s chunks: %w", col.Key, err)
		}
		out = append(out, retriever.Collection{
			Key:          col.Key,
			Regulator:    col.Regulator,
			Authority:    col.Authority,
			Jurisdiction: col.Jurisdiction,
			Chunks:       chunks,
		})
	}
	return out, nil
}

func regulators(cfg *config.Config) []generation.Regulator {
	out := make([]generation.Regulator, len(cfg.Retrieval.Collections))
	for i, col := range cfg.Retrieval.Collections {
		out[i] = generation.Regulator{
			Name:         col.Regulator,
			Collection:   col.Key,
			Authority:    col.Authority,
			Jurisdiction: col.Jurisdiction,
		}
	}
	return out
}
