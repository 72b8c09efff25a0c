package app

import (
	"context"
	"database/sql"
	"fmt"

	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/engine"
)

// ResolveConfig loads auditline.yml from the workspace, falling back to the
// built-in catalog when the file is absent.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// OpenEngine opens and migrates the workspace database, syncs the template
// catalog and roles from config, and makes actorID an owner when no owner
// exists yet. Callers must close the returned connection.
func OpenEngine(ctx context.Context, workspace, actorID string) (engine.Engine, *sql.DB, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.OpenMigrated(ctx, db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg)
	owners, err := e.Repo.RoleHolders(ctx, "owner")
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	if len(owners) > 0 {
		actorID = ""
	}
	if err := e.Bootstrap(ctx, actorID); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("bootstrap workspace: %w", err)
	}
	return e, conn, nil
}
