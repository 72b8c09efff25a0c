package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"auditline/internal/app"
	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/engine"
	"auditline/internal/logging"
	"auditline/internal/repo"
	"auditline/internal/server"
	"auditline/internal/telemetry"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Auditline CLI",
	Long: `Auditline runs security audit checklists against digital assets.
Core concepts:
- Workspace: the .auditline directory holding the database; auditline.yml next to it defines the template catalog and roles.
- Template: a named, ordered set of yes/no/n-a questions, each with a severity (Low, Medium, High, Critical).
- Audit: one review of an asset; it owns checklists and completes once all of them are completed.
- Checklist: one run of a template inside an audit. Answers can be overwritten until it is completed.
- Run: 'al checklist run' walks a checklist question by question and completes it when the last answer is in.
- Event log: every change is recorded; view it with 'al log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.Factory{}.New(logging.Level(viper.GetString("log-level")), logging.Format(viper.GetString("log-format")))
		if err != nil {
			return err
		}
		logger = l
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AUDITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, structured)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default auditline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate auditline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("OK: %d template(s), %d role(s)\n", len(cfg.Templates), len(cfg.RBAC.Roles))
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: audits created, answers recorded or overwritten, completions and their rejections.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermEventsRead); err != nil {
					return err
				}
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ago(ev.TS), ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.AuditID, "audit", "", "audit id")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				roles, err := e.Repo.ActorRoles(ctx, actor)
				if err != nil {
					return err
				}
				perms, err := e.Repo.ActorPermissions(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": actor, "roles": roles, "permissions": perms})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireOwner(ctx, e); err != nil {
					return err
				}
				return e.GrantRole(ctx, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireOwner(ctx, e); err != nil {
					return err
				}
				return e.RevokeRole(ctx, target, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var target, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = viper.GetString("actor-id")
				}
				if target != viper.GetString("actor-id") {
					if err := requireOwner(ctx, e); err != nil {
						return err
					}
				}
				key, plain, err := e.CreateAPIKey(ctx, target, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target != viper.GetString("actor-id") {
					if err := requireOwner(ctx, e); err != nil {
						return err
					}
				}
				keys, err := e.Repo.ListAPIKeys(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, ago(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "only keys of this actor")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireOwner(ctx, e); err != nil {
					return err
				}
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if env.JWTSecret == "" {
				return fmt.Errorf("AUDITLINE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{ServiceName: "auditline", Endpoint: env.OTelEndpoint, Enabled: env.OTelEnabled})
			if err != nil {
				return fmt.Errorf("tracing: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					logger.Warn("tracer shutdown failed", zap.Error(err))
				}
			}()

			e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"), viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			defer conn.Close()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: env.BasePath,
				Auth:     server.AuthConfig{JWTSecret: env.JWTSecret, AllowLegacyActorHeader: env.AllowLegacyActorHeader, Logger: logger},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, e, env.WebhookInterval, logger)

			srv := &http.Server{Addr: env.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving auditline api", zap.String("addr", env.Addr), zap.String("base_path", env.BasePath))
			fmt.Printf("Serving Auditline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", env.Addr, env.BasePath, env.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides AUDITLINE_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides AUDITLINE_BASE_PATH)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"), viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func requireLocal(ctx context.Context, e engine.Engine, perm string) error {
	return e.Auth.Require(ctx, viper.GetString("actor-id"), nil, perm)
}

func requireOwner(ctx context.Context, e engine.Engine) error {
	actor := viper.GetString("actor-id")
	roles, err := e.Repo.ActorRoles(ctx, actor)
	if err != nil {
		return err
	}
	if !slices.Contains(roles, "owner") {
		return fmt.Errorf("actor %s must hold the owner role", actor)
	}
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

// ago renders an RFC3339 timestamp relative to now, or as-is when it does not parse.
func ago(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
