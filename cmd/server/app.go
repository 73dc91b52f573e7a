package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/engageai/engage-api/internal/config"
	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/events"
	"github.com/engageai/engage-api/internal/orchestrator"
	"github.com/engageai/engage-api/internal/platform/gemini"
	"github.com/engageai/engage-api/internal/platform/metrics"
	"github.com/engageai/engage-api/internal/platform/postgres"
	"github.com/engageai/engage-api/internal/store"
	"github.com/engageai/engage-api/internal/task"
)

// application bundles the wired components. It owns their lifecycles:
// buildApplication constructs everything, cleanup tears it down in reverse
// order.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	queue   *task.LaneQueue
	engine  *orchestrator.Orchestrator
	emitter *events.InMemoryEventEmitter
	metrics *metrics.Engine
}

// buildApplication wires stores, executor, metrics and the orchestrator
// from configuration. A configured database URL selects the Postgres
// stores; otherwise everything is in-memory and lost on restart.
func buildApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var taskStore task.Store
	var convStore store.ConversationStore

	if cfg.Database.URL != "" {
		db, err := postgres.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		app.db = db
		taskStore = postgres.NewTaskStore(db)
		convStore = postgres.NewConversationStore(db)
		logger.Info("using postgres stores")
	} else {
		taskStore = task.NewMemoryStore()
		convStore = store.NewMemoryConversationStore()
		logger.Warn("no database configured, using in-memory stores")
	}

	executor, err := buildExecutor(ctx, cfg, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.queue = task.NewLaneQueue(cfg.Task.QueueSize, logger)
	app.metrics = metrics.NewEngine(app.queue.Depths)
	app.engine = orchestrator.New(cfg, taskStore, convStore, app.queue, executor, app.metrics, logger)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(app.engine)

	return app, nil
}

// buildExecutor selects the Gemini executor when an API key is configured,
// and the offline keyword classifier otherwise so the engine stays usable
// in development.
func buildExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (task.Executor, error) {
	if cfg.LLM.GeminiAPIKey != "" {
		executor, err := gemini.NewExecutor(ctx, logger, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini executor: %w", err)
		}
		logger.Info("using gemini executor", "model", cfg.LLM.ModelName)
		return executor, nil
	}

	logger.Warn("no gemini API key configured, using offline keyword classifier")
	return task.ExecutorFunc(offlineExecute), nil
}

// offlineExecute classifies the customer message with keyword heuristics
// and returns a canned reply. It keeps local runs deterministic.
func offlineExecute(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
	var ev events.ConversationEvent
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		return "", "", fmt.Errorf("%w: undecodable payload: %v", task.ErrPermanent, err)
	}

	outcome := gemini.ClassifyMessage(ev.Message)
	return "Thanks for reaching out, we'll get back to you shortly.", outcome, nil
}

// start launches the engine.
func (app *application) start() error {
	return app.engine.Start()
}

// cleanup releases resources in reverse construction order.
func (app *application) cleanup() {
	if app.engine != nil {
		app.engine.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}
