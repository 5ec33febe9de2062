package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/polarops/snowdesk/db"
	"github.com/polarops/snowdesk/internal/api"
	"github.com/polarops/snowdesk/internal/config"
	"github.com/polarops/snowdesk/internal/knowledge"
	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/model"
	"github.com/polarops/snowdesk/internal/safety"
	"github.com/polarops/snowdesk/internal/tools"
	"github.com/polarops/snowdesk/internal/turn"
	"github.com/polarops/snowdesk/internal/turnlog"
	"github.com/polarops/snowdesk/internal/weather"
)

// Model calls share one process-wide limiter so a burst of concurrent turns
// does not trip upstream quotas.
const (
	modelRatePerSec = 2.0
	modelRateBurst  = 4
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	store, err := knowledge.NewStore(knowledge.StoreConfig{
		DB:       pool,
		Embedder: embedder,
		MinSim:   cfg.MinSimilarity,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating FAQ store: %w", err)
	}
	a.Knowledge = store

	wc, err := weather.New(weather.Config{
		BaseURL:   cfg.WeatherBaseURL,
		UserAgent: cfg.WeatherUserAgent,
		CacheTTL:  cfg.WeatherCacheTTL,
		StaleMax:  cfg.WeatherStaleMax,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating weather client: %w", err)
	}
	a.Weather = wc

	guard, err := safety.NewGuard(safety.GuardConfig{
		Endpoint: cfg.GuardEndpoint,
		Timeout:  cfg.GuardTimeout,
		Logger:   logger,
		Screen:   safety.NewPromptScreen(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating safety guard: %w", err)
	}

	registry, err := tools.NewRegistry(tools.Config{
		Searcher:         store,
		Weather:          wc,
		Logger:           logger,
		TopK:             cfg.RetrievalTopK,
		DefaultArea:      cfg.DefaultArea,
		DefaultLatitude:  cfg.DefaultLatitude,
		DefaultLongitude: cfg.DefaultLongitude,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool registry: %w", err)
	}
	if err := registry.Register(g); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	client, err := model.New(model.Config{
		Genkit:       g,
		Logger:       logger,
		ModelName:    cfg.ModelName,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.ModelTimeout,
		Limiter:      rate.NewLimiter(rate.Limit(modelRatePerSec), modelRateBurst),
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	tl, tlCleanup, err := provideTurnLog(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.TurnLog = tl
	a.turnLogCleanup = tlCleanup

	orch, err := turn.New(turn.Config{
		Gate:          guard,
		Generator:     client,
		Dispatcher:    registry,
		Recorder:      tl,
		Logger:        logger,
		MaxToolRounds: cfg.MaxToolRounds,
		GuardFailOpen: cfg.GuardFailOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	srv, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Answerer:    orch,
		DB:          pool,
		CORSOrigins: cfg.CORSOrigins,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = srv

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideGenkit initializes Genkit with the Google AI plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	// The plugin reads GEMINI_API_KEY from the environment; propagate a
	// key supplied via config file. SAFETY: os.Setenv is not
	// concurrent-safe, but Setup runs once at startup before goroutines
	// are spawned.
	if os.Getenv("GEMINI_API_KEY") == "" && cfg.GeminiAPIKey != "" {
		_ = os.Setenv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	return g, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}

// provideTurnLog opens the interaction log. With no path configured, records
// go to the application logger.
func provideTurnLog(cfg *config.Config, logger log.Logger) (*turnlog.Log, func() error, error) {
	if cfg.TurnLogPath == "" {
		return turnlog.New(logger), nil, nil
	}
	tl, closeFn, err := turnlog.Open(cfg.TurnLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening turn log: %w", err)
	}
	return tl, closeFn, nil
}
