package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
	"taskmarket/internal/repo"
	"taskmarket/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Taskmarket CLI",
	Long: `Taskmarket is a marketplace where posters publish small tasks and helpers find, apply for and complete them.
Core concepts:
- Workspace: a directory holding taskmarket.yml and the .taskmarket database.
- Profile: a person. The same profile posts tasks and helps on other profiles' tasks.
- Task: OPEN -> IN_PROGRESS (a helper is assigned) -> COMPLETE.
- Interaction: how one profile relates to one task (SHORTLISTED, APPLIED, APPLICATION_SHORTLISTED, ASSIGNED, REJECTED, DISCARDED).
- Search: open tasks you have not touched yet, ranked by shared skills and location.
- Application limit: how many applications a profile may send per window, by rating.
- Event log: every change, view with 'tm events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKMARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("profile", "p", "", "acting profile id or username")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("redis-addr", "", "redis address for the skill cache (overrides taskmarket.yml)")
	bindFlag("workspace")
	bindFlag("json")
	bindFlag("profile")
	bindFlag("log-level")
	bindFlag("redis-addr")
}

func bindFlag(name string) {
	if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(skillCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(limitCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

func buildLogger() *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).With(slog.String("service", "taskmarket"))
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "taskmarket.yml holds the ranking weights, application quotas, skill seeds, cache and webhook settings. A missing file means the defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taskmarket.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			tw := newTable(table.Row{"Setting", "Value"})
			tw.AppendRow(table.Row{"server.addr", cfg.Server.Addr})
			tw.AppendRow(table.Row{"server.base_path", cfg.Server.BasePath})
			tw.AppendRow(table.Row{"ranking", fmt.Sprintf("shared=%d missing=%d location=%d", cfg.Ranking.SharedSkill, cfg.Ranking.MissingSkill, cfg.Ranking.SameLocation)})
			tw.AppendRow(table.Row{"applications.window", cfg.Applications.Window.Std().String()})
			tw.AppendRow(table.Row{"applications.quota", fmt.Sprint(cfg.Applications.Quota)})
			tw.AppendRow(table.Row{"skills", len(cfg.Skills)})
			tw.AppendRow(table.Row{"cache.redis_addr", cfg.Cache.RedisAddr})
			tw.AppendRow(table.Row{"webhooks", len(cfg.Webhooks)})
			tw.Render()
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate taskmarket.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadOptional(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if target > 0 {
				if _, err := migrate.MigrateTo(conn, target); err != nil {
					return err
				}
			} else if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]int{"version": v})
			}
			fmt.Println("schema version", v)
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "migrate to this version instead of the latest")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				JWTSecret: viper.GetString("jwt-secret"),
				RedisAddr: viper.GetString("redis-addr"),
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("TASKMARKET_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret:          cfg.Auth.JWTSecret,
					TokenTTL:           cfg.Auth.TokenTTL.Std(),
					DevLogin:           cfg.Auth.DevLogin,
					AllowProfileHeader: cfg.Auth.AllowProfileHeader,
				},
			})
			if err != nil {
				return err
			}

			notifyCtx, stopNotify := context.WithCancel(context.Background())
			defer stopNotify()
			notifier := server.NewNotifier(a.Engine, logger)
			notifyDone := make(chan struct{})
			go func() {
				defer close(notifyDone)
				if err := notifier.Run(notifyCtx); err != nil {
					logger.Error("webhook notifier stopped", slog.String("error", err.Error()))
				}
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()
			logger.Info("serving taskmarket api",
				slog.String("addr", addr),
				slog.String("base_path", basePath),
				slog.Bool("webhooks", notifier.Enabled()),
			)

			wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
				"http-server": func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
				"webhook-notifier": func(ctx context.Context) error {
					stopNotify()
					select {
					case <-notifyDone:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			})
			select {
			case err := <-serveErr:
				return err
			case code := <-wait:
				logger.Info("shutdown complete", slog.Int("exit_code", code))
				if code != 0 {
					return fmt.Errorf("shutdown exited with code %d", code)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from taskmarket.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from taskmarket.yml)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	if err := viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret")); err != nil {
		panic(err)
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Inspect the event log"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().Int64Var(&f.Cursor, "before", 0, "only events with an id below this one")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		RedisAddr: viper.GetString("redis-addr"),
		Logger:    buildLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

// actingProfile resolves --profile, which may be an id or a username.
func actingProfile(ctx context.Context, e engine.Engine) (domain.Profile, error) {
	ref := strings.TrimSpace(viper.GetString("profile"))
	if ref == "" {
		return domain.Profile{}, errors.New("--profile (or TASKMARKET_PROFILE) is required")
	}
	p, err := e.GetProfile(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return domain.Profile{}, err
	}
	p, err = e.Repo.GetProfileByUsername(ctx, ref)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("profile %s: %w", ref, err)
	}
	return p, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
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

func optionalInt(cmd *cobra.Command, name string, v int) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optionalString(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
