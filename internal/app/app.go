package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"museu/internal/config"
	"museu/internal/db"
	"museu/internal/engine"
	"museu/internal/migrate"
)

// App is an opened workspace: database migrated, goals seeded and configured
// administrators provisioned.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// ResolveConfig prefers an explicit file, then the workspace museu.yml, then
// built-in defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Bootstrap opens the workspace database and brings it up to date.
func Bootstrap(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	seeded, err := eng.SeedGoals(ctx, cfg.Goals)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed goals: %w", err)
	}
	for _, id := range cfg.Access.Administrators {
		if _, err := eng.Provision(ctx, id, id); err != nil {
			conn.Close()
			return nil, fmt.Errorf("provision administrator %s: %w", id, err)
		}
	}
	logger.Printf("workspace %s ready (schema v%d, %d goals seeded)", db.Path(workspace), version, seeded)
	return &App{Workspace: workspace, DB: conn, Config: cfg, Engine: eng}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
