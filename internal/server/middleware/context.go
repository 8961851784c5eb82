package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/bluefishs/CK-Missive-sub000/internal/config"
	"github.com/bluefishs/CK-Missive-sub000/pkg/agent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/embedding"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
)

// App holds the composed services every handler may need. It is built once
// in server.Init and shared across requests; everything on it is safe for
// concurrent use.
type App struct {
	Config config.Config

	DBConn *pgxpool.Pool
	Redis  *redis.Client
	Queue  *amqp091.Channel

	AiClient ai.Client
	Embedder *embedding.Manager

	Intent  *intent.Parser
	History *intent.HistoryStore

	Entities   *entity.Service
	GraphQuery *graph.QueryService
	GraphCache *graph.ResponseCache
	Ingestion  *graph.IngestionPipeline

	Agent *agent.Orchestrator
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
