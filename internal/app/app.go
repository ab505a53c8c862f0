// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the database
// pool, the AI client behind its call gate, the retriever, the tool
// registry, the task queue and the agent coordinator. Setup builds it,
// Close releases it.
package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

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

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBPool      *pgxpool.Pool
	AI          *ai.Client
	Gate        *resilience.Gate
	Limiter     *limiter.Limiter
	Index       vector.Index
	Retriever   *retrieval.Retriever
	Registry    *tools.Registry
	Sessions    session.Store
	Queue       *queue.Queue
	Coordinator *agent.Coordinator
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
