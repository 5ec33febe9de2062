// Package app wires application components together.
//
// Setup builds the full dependency graph for one process: database pool,
// Genkit runtime, FAQ store, weather client, safety guard, tool registry,
// model client, turn orchestrator, and the HTTP API server. App is the
// container; Close releases everything in reverse order.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polarops/snowdesk/internal/api"
	"github.com/polarops/snowdesk/internal/config"
	"github.com/polarops/snowdesk/internal/knowledge"
	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/turn"
	"github.com/polarops/snowdesk/internal/turnlog"
	"github.com/polarops/snowdesk/internal/weather"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit       *genkit.Genkit
	Embedder     ai.Embedder
	DBPool       *pgxpool.Pool
	Knowledge    *knowledge.Store
	Weather      *weather.Client
	Orchestrator *turn.Orchestrator
	TurnLog      *turnlog.Log
	Server       *api.Server

	dbCleanup      func()
	turnLogCleanup func() error
	cancel         context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.cancel != nil {
		a.cancel()
	}

	var firstErr error
	if a.turnLogCleanup != nil {
		if err := a.turnLogCleanup(); err != nil {
			firstErr = err
		}
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}

	return firstErr
}
