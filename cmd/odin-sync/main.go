// Package main is the entrypoint for the odin-sync CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odin-security/odin-sync/internal/api"
	"github.com/odin-security/odin-sync/internal/cloud"
	"github.com/odin-security/odin-sync/internal/config"
	"github.com/odin-security/odin-sync/internal/local"
	"github.com/odin-security/odin-sync/internal/metrics"
	"github.com/odin-security/odin-sync/internal/models"
	syncpkg "github.com/odin-security/odin-sync/internal/sync"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "odin-sync",
		Short: "Odin sync - cloud to local database synchronization",
		Long: `odin-sync keeps a local SQLite cache in step with the authoritative
cloud database for one organization, and replays locally recorded
changes back to the cloud.

Run 'odin-sync init' to write a starter configuration.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.odin-sync/config.yml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(&configPath),
		newSyncCmd(&configPath),
		newUploadCmd(&configPath),
		newStatusCmd(&configPath),
		newCleanupCmd(&configPath),
		newDeadLetterCmd(&configPath),
		newServeCmd(&configPath),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("odin-sync %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists at %s", path)
			}

			dir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			cfg := &config.Config{
				Cloud: config.CloudConfig{
					Host:     "localhost",
					Port:     5432,
					Database: "odin",
					Username: "odin",
				},
				Local: local.Config{Path: dir + "/cache.db"},
				Sync:  config.SyncConfig{},
				API:   config.APIConfig{ListenAddr: "127.0.0.1:8787"},
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			fmt.Println("Edit it to set your cloud credentials and organization id.")
			return nil
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	var (
		tables   []string
		every    string
		lookback int
		since    string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull cloud data into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			opts := syncpkg.Options{
				EventLookbackDays: lookback,
				BatchSize:         app.cfg.Sync.BatchSize,
			}
			if since != "" {
				ts, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since timestamp: %w", err)
				}
				opts.Since = &ts
			}
			for _, name := range tables {
				table, err := models.ParseTable(name)
				if err != nil {
					return err
				}
				opts.Tables = append(opts.Tables, table)
			}

			if every == "" {
				return app.runSyncOnce(cmd.Context(), opts)
			}
			return app.runSyncScheduled(cmd.Context(), every, opts)
		},
	}

	cmd.Flags().StringSliceVar(&tables, "tables", nil, "restrict sync to specific tables")
	cmd.Flags().StringVar(&every, "every", "", "cron schedule for repeated sync (e.g. '*/5 * * * *')")
	cmd.Flags().IntVar(&lookback, "lookback-days", 0, "event lookback window for a first sync")
	cmd.Flags().StringVar(&since, "since", "", "re-pull events from this RFC3339 timestamp, overriding the stored cursor")

	return cmd
}

func newUploadCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Replay locally recorded changes to the cloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			actor := models.ActorContext{}
			if userID != "" {
				id, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				actor.UserID = &id
			}

			report, err := app.syncer.UploadOfflineChanges(cmd.Context(), app.orgID, actor)
			if err != nil {
				return err
			}

			fmt.Printf("Audit logs uploaded: %d\n", report.AuditLogsUploaded)
			fmt.Printf("Items uploaded:      %d\n", report.ItemsUploaded)
			fmt.Printf("Items skipped:       %d\n", report.ItemsSkipped)
			fmt.Printf("Items failed:        %d\n", report.ItemsFailed)
			fmt.Printf("Items dead-lettered: %d\n", report.ItemsDeadLettered)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to attribute replayed changes to")

	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-table sync cursors",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildAppLocalOnly(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			statuses, err := app.local.GetAllSyncStatus()
			if err != nil {
				return err
			}

			fmt.Printf("%-15s %-25s %s\n", "TABLE", "LAST SYNC", "ERROR")
			for _, table := range models.DefaultTables() {
				status := statuses[table]
				lastSync := "never"
				errMsg := ""
				if status != nil {
					if status.LastSyncAt != nil {
						lastSync = status.LastSyncAt.Format(time.RFC3339)
					}
					errMsg = status.ErrorMessage
				}
				fmt.Printf("%-15s %-25s %s\n", table, lastSync, errMsg)
			}

			depth, err := app.local.CountOfflineQueue()
			if err != nil {
				return err
			}
			fmt.Printf("\nOffline queue depth: %d\n", depth)
			return nil
		},
	}
}

func newCleanupCmd(configPath *string) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove local data past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildAppLocalOnly(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			days := retentionDays
			if days == 0 {
				days = app.cfg.Sync.RetentionDays
			}

			result, err := app.local.CleanupOldData(days)
			if err != nil {
				return err
			}
			fmt.Printf("Events deleted:     %d\n", result.EventsDeleted)
			fmt.Printf("Files deleted:      %d\n", result.FilesDeleted)
			fmt.Printf("Audit logs deleted: %d\n", result.AuditLogsDeleted)
			fmt.Printf("Sessions deleted:   %d\n", result.SessionsDeleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "retention window in days (default 30)")

	return cmd
}

func newDeadLetterCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letter",
		Short: "List queue items that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildAppLocalOnly(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := app.local.ListDeadLetter(0)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("No dead-lettered items")
				return nil
			}

			fmt.Printf("%-8s %-10s %-15s %-25s %s\n", "ID", "ACTION", "TABLE", "FAILED AT", "ERROR")
			for _, item := range items {
				fmt.Printf("%-8d %-10s %-15s %-25s %s\n",
					item.ID, item.Action, item.Table,
					item.FailedAt.Format(time.RFC3339), item.LastError)
			}
			return nil
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operational HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			addr := listenAddr
			if addr == "" {
				addr = app.cfg.API.ListenAddr
			}
			if addr == "" {
				addr = "127.0.0.1:8787"
			}
			return app.serve(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from config)")

	return cmd
}

// app bundles the wired-up pipeline for one CLI invocation.
type app struct {
	cfg    *config.Config
	orgID  uuid.UUID
	logger zerolog.Logger

	cloud    *cloud.Store
	local    *local.Store
	redis    *redis.Client
	syncer   *syncpkg.Syncer
	registry *prometheus.Registry
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// buildAppLocalOnly wires only the local store, for commands that never
// touch the cloud.
func buildAppLocalOnly(configPath string) (*app, error) {
	logger := newLogger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Local.Path == "" {
		return nil, errors.New("local.path is required; run 'odin-sync init' first")
	}

	localStore, err := local.New(cfg.Local, logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, local: localStore}, nil
}

// buildApp wires the full pipeline: cloud pool, local store, locker,
// metrics, and the syncer.
func buildApp(configPath string) (*app, error) {
	logger := newLogger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	orgID, err := uuid.Parse(cfg.Sync.OrgID)
	if err != nil {
		return nil, fmt.Errorf("invalid sync.org_id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cloudStore, err := cloud.New(ctx, cfg.CloudStoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect cloud store: %w", err)
	}

	localStore, err := local.New(cfg.Local, logger)
	if err != nil {
		cloudStore.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		orgID:    orgID,
		logger:   logger,
		cloud:    cloudStore,
		local:    localStore,
		registry: prometheus.NewRegistry(),
	}

	var locker syncpkg.OrgLocker
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = syncpkg.NewRedisLocker(a.redis, cfg.Redis.LockTTLDuration())
	}

	m := metrics.New(a.registry)
	a.syncer = syncpkg.New(cloudStore, localStore, locker, m, logger)
	return a, nil
}

func (a *app) Close() {
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close local store")
		}
	}
	if a.cloud != nil {
		a.cloud.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}

func (a *app) runSyncOnce(ctx context.Context, opts syncpkg.Options) error {
	report, err := a.syncer.SyncOrganization(ctx, a.orgID, opts)
	if err != nil {
		return err
	}

	fmt.Printf("%-15s %-10s %8s %8s  %s\n", "TABLE", "OUTCOME", "PULLED", "SKIPPED", "ERROR")
	for _, result := range report.Tables {
		fmt.Printf("%-15s %-10s %8d %8d  %s\n",
			result.Table, result.Outcome, result.RowsPulled, result.RowsSkipped, result.Error)
	}
	if report.Failed() {
		return errors.New("sync completed with failures")
	}
	return nil
}

func (a *app) runSyncScheduled(ctx context.Context, schedule string, opts syncpkg.Options) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := a.syncer.SyncOrganization(runCtx, a.orgID, opts)
		if errors.Is(err, syncpkg.ErrSyncInProgress) {
			a.logger.Warn().Msg("previous sync still running, skipping this tick")
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("scheduled sync failed")
			return
		}
		if report.Failed() {
			a.logger.Error().Msg("scheduled sync completed with failures")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	a.logger.Info().Str("schedule", schedule).Msg("starting scheduled sync")
	c.Start()
	defer c.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
	return nil
}

func (a *app) serve(ctx context.Context, addr string) error {
	handler := api.NewSyncHandler(a.syncer, &cloudHealth{a.cloud}, a.local, a.cfg.Sync.RetentionDays, a.logger)
	router := api.NewRouter(api.Config{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, handler, a.registry, a.logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cloudHealth adapts the cloud store's context-taking health check to the
// API's HealthChecker.
type cloudHealth struct {
	store *cloud.Store
}

func (c *cloudHealth) HealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.store.HealthCheck(ctx)
}
