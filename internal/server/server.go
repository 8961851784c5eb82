package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/internal/config"
	"github.com/bluefishs/CK-Missive-sub000/internal/queue"
	mid "github.com/bluefishs/CK-Missive-sub000/internal/server/middleware"
	"github.com/bluefishs/CK-Missive-sub000/pkg/agent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/ai"
	oai "github.com/bluefishs/CK-Missive-sub000/pkg/ai/ollama"
	gai "github.com/bluefishs/CK-Missive-sub000/pkg/ai/openai"
	"github.com/bluefishs/CK-Missive-sub000/pkg/embedding"
	"github.com/bluefishs/CK-Missive-sub000/pkg/entity"
	"github.com/bluefishs/CK-Missive-sub000/pkg/graph"
	"github.com/bluefishs/CK-Missive-sub000/pkg/intent"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	cfg := config.Load()

	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMigrations(cfg.DatabaseURL)

	conn, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", "err", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set, response caching disabled")
	}

	que := queue.Init(cfg.RabbitMQURL)
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	app := buildApp(cfg, conn, rdb, ch)

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))

	RegisterRoutes(e)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// buildApp composes the retrieval and orchestration services around the
// shared connections.
func buildApp(
	cfg config.Config,
	conn *pgxpool.Pool,
	rdb *redis.Client,
	ch *amqp091.Channel,
) *mid.App {
	aiClient := NewAIClient(cfg.AI)

	embedder, err := embedding.NewManager(aiClient, embedding.Params{
		CacheSize:     cfg.Embed.CacheSize,
		CacheTTL:      cfg.Embed.CacheTTL,
		MaxConcurrent: cfg.Embed.MaxConcurrent,
	})
	if err != nil {
		logger.Fatal("Failed to create embedding manager", "err", err)
	}

	engine := intent.NewEngine(nil)
	if cfg.Intent.RuleConfigPath != "" {
		engine, err = intent.NewEngineFromConfig(cfg.Intent.RuleConfigPath)
		if err != nil {
			logger.Fatal("Failed to load intent rules", "path", cfg.Intent.RuleConfigPath, "err", err)
		}
	}

	history := intent.NewHistoryStore(conn)
	parser := intent.NewParser(intent.Params{
		Engine:          engine,
		History:         history,
		Embedder:        embedder,
		Client:          aiClient,
		Redis:           rdb,
		RuleThreshold:   cfg.Intent.RuleThreshold,
		VectorThreshold: cfg.Intent.VectorThreshold,
		HistoryDays:     cfg.Intent.HistoryDays,
	})

	entities := entity.NewService(entity.Params{
		Conn:           conn,
		FuzzyThreshold: cfg.Graph.FuzzyMatchThreshold,
	})

	graphCache := graph.NewResponseCache(graph.CacheParams{
		Client:      rdb,
		TTLDetail:   cfg.Graph.CacheTTLDetail,
		TTLNeighbor: cfg.Graph.CacheTTLNeighbors,
		TTLSearch:   cfg.Graph.CacheTTLSearch,
		TTLStats:    cfg.Graph.CacheTTLStats,
	})
	graphQuery := graph.NewQueryService(graph.QueryServiceParams{
		Conn:  conn,
		Cache: graphCache,
	})
	ingestion := graph.NewIngestionPipeline(graph.IngestionParams{
		Conn:        conn,
		Entities:    entities,
		BatchLimit:  cfg.Ingest.BatchLimit,
		CommitEvery: cfg.Ingest.CommitEvery,
	})

	tools := agent.NewToolset(agent.ToolsetParams{
		Conn:        conn,
		Embedder:    embedder,
		Graph:       graphQuery,
		TopK:        cfg.RAG.TopK,
		ToolTimeout: cfg.Agent.ToolTimeout,
	})
	orchestrator := agent.NewOrchestrator(agent.OrchestratorParams{
		Client:   aiClient,
		Parser:   parser,
		Planner:  agent.NewPlanner(agent.PlannerParams{Client: aiClient, MaxRetries: cfg.AI.MaxRetries}),
		Tools:    tools,
		Synth:    agent.NewSynthesizer(agent.SynthesizerParams{Client: aiClient, ContextTokens: cfg.RAG.ContextTokens, HistoryTokens: cfg.RAG.HistoryMaxTokens}),
		Limiter:  agent.NewRateLimiter(cfg.Agent.RateLimit, cfg.Agent.RateWindow),
		History:  history,
		Embedder: embedder,

		Model:         cfg.AI.CloudModel,
		MaxIterations: cfg.Agent.MaxIterations,
		StreamTimeout: cfg.Agent.StreamTimeout,
	})

	return &mid.App{
		Config: cfg,

		DBConn: conn,
		Redis:  rdb,
		Queue:  ch,

		AiClient: aiClient,
		Embedder: embedder,

		Intent:  parser,
		History: history,

		Entities:   entities,
		GraphQuery: graphQuery,
		GraphCache: graphCache,
		Ingestion:  ingestion,

		Agent: orchestrator,
	}
}

// NewAIClient builds the two-provider connector from the AI configuration.
// Either provider may be absent; with AI disabled the connector runs on
// canned responses only.
func NewAIClient(cfg config.AIConfig) ai.Client {
	var cloud, local ai.Client

	if cfg.Enabled && cfg.CloudKey != "" {
		cloud = gai.NewMissiveOpenAIClient(gai.NewMissiveOpenAIClientParams{
			ChatModel:      cfg.CloudModel,
			EmbeddingModel: cfg.EmbedModel,

			ChatURL:      cfg.CloudURL,
			ChatKey:      cfg.CloudKey,
			EmbeddingURL: cfg.CloudURL,
			EmbeddingKey: cfg.CloudKey,

			TimeoutMinutes: int64(cfg.Timeout / time.Minute),
		})
	}
	if cfg.Enabled && cfg.LocalURL != "" {
		client, err := oai.NewMissiveOllamaClient(oai.NewMissiveOllamaClientParams{
			ChatModel:      cfg.LocalModel,
			EmbeddingModel: cfg.EmbedModel,

			BaseURL: cfg.LocalURL,
			ApiKey:  cfg.LocalKey,

			TimeoutMinutes: int64(cfg.Timeout / time.Minute),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		local = client
	}
	if cloud == nil && local == nil {
		logger.Warn("No AI provider configured, answers degrade to canned responses")
	}

	return ai.NewConnector(ai.NewConnectorParams{
		Cloud:        cloud,
		Local:        local,
		Capabilities: cfg.CapabilityTable(),
		LocalModel:   cfg.LocalModel,
		MaxRetries:   cfg.MaxRetries,
	})
}

func runMigrations(databaseURL string) {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		logger.Fatal("Failed to init migrations", "err", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
}
