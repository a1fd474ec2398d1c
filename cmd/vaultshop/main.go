// Command vaultshop is the operator CLI: schema migrations, storage backend
// migrations and health, and intent expiry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/app"
	"github.com/dharsanguruparan/VaultShop/internal/config"
	"github.com/dharsanguruparan/VaultShop/internal/database"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vaultshop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "vaultshop",
		Short:        "VaultShop operator CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if configFile != "" {
				return os.Setenv("VAULTSHOP_CONFIG", configFile)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides VAULTSHOP_CONFIG)")
	cmd.AddCommand(newDBCmd(), newStorageCmd(), newIntentsCmd())
	return cmd
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Database schema commands"}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database url is not configured")
			}
			if err := database.Migrate(cmd.Context(), cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	})
	return cmd
}

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "storage", Short: "Storage backend commands"}
	cmd.AddCommand(newStorageMigrateCmd(), newStorageHealthCmd())
	return cmd
}

func newStorageMigrateCmd() *cobra.Command {
	var (
		from, to string
		workers  int
		enqueue  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move every asset from one storage backend to another",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if enqueue {
					n, err := a.ScheduleMigration(ctx, from, to)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d migrations %s -> %s\n", n, from, to)
					return nil
				}
				if workers <= 0 {
					workers = a.Config.MigrationWorkers
				}
				report, err := a.Migrator.Run(ctx, from, to, workers)
				fmt.Fprintf(cmd.OutOrStdout(), "migrated=%d skipped=%d failed=%d\n",
					report.Migrated, report.Skipped, report.Failed)
				if err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d assets failed to migrate", report.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source backend")
	cmd.Flags().StringVar(&to, "to", "", "target backend")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent migrations (default from config)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the migrations for the worker instead of running them here")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newStorageHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every configured storage backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				results := a.Storage.Health(ctx)
				var failed int
				for _, name := range a.Storage.Names() {
					status := "ok"
					if err := results[name]; err != nil {
						status = err.Error()
						failed++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, status)
				}
				if failed > 0 {
					return fmt.Errorf("%d backends unhealthy", failed)
				}
				return nil
			})
		},
	}
}

func newIntentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "intents", Short: "Order intent maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Expire pending intents older than the intent TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Ledger.ExpireStale(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d intents\n", n)
				return nil
			})
		},
	})
	return cmd
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("init app", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
