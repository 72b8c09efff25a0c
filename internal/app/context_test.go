package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"auditline/internal/config"
)

func TestResolveConfigFallsBackToDefault(t *testing.T) {
	cfg, err := ResolveConfig(t.TempDir())
	require.NoError(t, err)
	require.Len(t, cfg.Templates, len(config.Default().Templates))
}

func TestResolveConfigReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	yml := `templates:
  - id: custody
    name: Key Custody
    category: Access_Control
    questions:
      - {text: "Are signing keys held in an HSM?", severity: Critical}
`
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))
	cfg, err := ResolveConfig(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Templates, 1)
	require.Equal(t, "custody", cfg.Templates[0].ID)
}

func TestOpenEngineMakesFirstActorOwner(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, conn, err := OpenEngine(ctx, dir, "alice")
	require.NoError(t, err)
	roles, err := e.Repo.ActorRoles(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"owner"}, roles)
	templates, err := e.Repo.ListTemplates(ctx, "")
	require.NoError(t, err)
	require.Len(t, templates, 5)
	require.NoError(t, conn.Close())

	e, conn, err = OpenEngine(ctx, dir, "bob")
	require.NoError(t, err)
	defer conn.Close()
	roles, err = e.Repo.ActorRoles(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, roles)
}
