package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"aicore/db"
	"aicore/internal/agent"
	"aicore/internal/ai"
	"aicore/internal/config"
	"aicore/internal/limiter"
	"aicore/internal/queue"
	"aicore/internal/resilience"
	"aicore/internal/retrieval"
	"aicore/internal/session"
	"aicore/internal/tools"
	"aicore/internal/vector"
)

// Setup creates and initializes the application. Call Close on the returned
// App to release its resources; on error everything already initialized is
// cleaned up before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	client, err := ai.NewClient(ai.ClientConfig{
		BaseURL:        cfg.AIBaseURL,
		APIKey:         cfg.AIAPIKey,
		DefaultModel:   cfg.ModelName,
		EmbeddingModel: cfg.EmbedderModel,
		Timeout:        time.Duration(cfg.AITimeoutSec) * time.Second,
		MaxRequestRate: cfg.AIMaxRequestRate,
		Logger:         logger.With("component", "ai"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating AI client: %w", err)
	}
	a.AI = client

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetAfter:       time.Duration(cfg.BreakerResetSec) * time.Second,
	})
	a.Gate = resilience.NewGate(breaker, logger.With("component", "gate"))

	lim, err := provideLimiter(pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Limiter = lim

	index, err := vector.NewPostgresIndex(pool, logger.With("component", "vector"))
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}
	a.Index = index

	retriever, err := provideRetriever(client, index, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	registry, err := provideRegistry(retriever, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	sessions, err := session.NewPostgresStore(pool, logger.With("component", "session"))
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	q, err := provideQueue(pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Queue = q

	coord, err := provideCoordinator(a, client, index, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Coordinator = coord

	return a, nil
}

func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideLimiter(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (*limiter.Limiter, error) {
	store, err := limiter.NewPostgresStore(pool)
	if err != nil {
		return nil, fmt.Errorf("creating rate limit store: %w", err)
	}
	lim, err := limiter.New(store, limiter.Config{
		Limit:  cfg.RateLimit,
		Window: time.Duration(cfg.RateLimitWindowSec) * time.Second,
	}, logger.With("component", "limiter"))
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}
	return lim, nil
}

func provideRetriever(client *ai.Client, index vector.Index, cfg *config.Config, logger *slog.Logger) (*retrieval.Retriever, error) {
	expander := retrieval.NewExpander(client, retrieval.ExpanderConfig{
		Model: cfg.ExpansionModel,
	}, logger.With("component", "expander"))

	retriever, err := retrieval.NewRetriever(index, client, expander, retrieval.RetrieverConfig{
		Collection:     cfg.RAGCollection,
		EmbeddingModel: cfg.EmbedderModel,
		TopK:           cfg.RAGTopK,
	}, logger.With("component", "retriever"))
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	return retriever, nil
}

func provideRegistry(retriever *retrieval.Retriever, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger.With("component", "tools"))
	if err := registry.Register(tools.NewSearchTool(retriever, logger.With("tool", "knowledge_search"))); err != nil {
		return nil, fmt.Errorf("registering search tool: %w", err)
	}
	if err := registry.Register(tools.NewWebTool(tools.WebToolConfig{}, logger.With("tool", "web_search"))); err != nil {
		return nil, fmt.Errorf("registering web tool: %w", err)
	}
	return registry, nil
}

func provideQueue(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (*queue.Queue, error) {
	tasks, err := queue.NewPostgresLog(pool)
	if err != nil {
		return nil, fmt.Errorf("creating task log: %w", err)
	}
	dead, err := queue.NewPostgresDeadLetters(pool)
	if err != nil {
		return nil, fmt.Errorf("creating dead letter store: %w", err)
	}
	results, err := queue.NewPostgresResults(pool)
	if err != nil {
		return nil, fmt.Errorf("creating result store: %w", err)
	}

	q, err := queue.New(tasks, dead, results, queue.Config{
		MaxRetries:   cfg.QueueMaxRetries,
		BatchSize:    cfg.QueueBatchSize,
		PollInterval: time.Duration(cfg.QueuePollMs) * time.Millisecond,
		ClaimTTL:     time.Duration(cfg.QueueClaimTTLSec) * time.Second,
		ResultTTL:    time.Duration(cfg.QueueResultTTLSec) * time.Second,
	}, logger.With("component", "queue"))
	if err != nil {
		return nil, fmt.Errorf("creating task queue: %w", err)
	}
	return q, nil
}

func provideCoordinator(a *App, client *ai.Client, index vector.Index, cfg *config.Config, logger *slog.Logger) (*agent.Coordinator, error) {
	memory, err := agent.NewVectorMemory(index, client, cfg.MemoryCollection, cfg.EmbedderModel, logger.With("component", "memory"))
	if err != nil {
		return nil, fmt.Errorf("creating vector memory: %w", err)
	}

	coord, err := agent.New(client, a.Gate, a.Registry, a.Sessions, memory, &sessionPreferences{sessions: a.Sessions}, agent.Config{
		Model:         cfg.ModelName,
		MaxIterations: cfg.MaxIterations,
		Temperature:   cfg.Temperature,
		HistoryLimit:  cfg.MaxHistoryMessages,
		ToolTimeout:   time.Duration(cfg.ToolTimeoutSec) * time.Second,
		ModelTimeout:  time.Duration(cfg.AITimeoutSec) * time.Second,
	}, logger.With("component", "agent"))
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}
	return coord, nil
}
