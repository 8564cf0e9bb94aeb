package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/database"
	"github.com/firewatch/flames/internal/logger"
	"github.com/firewatch/flames/pkg/config"
)

var (
	cfg  *config.Config
	zlog *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "incidentctl",
	Short:         "Operator tool for fire incidents",
	Long:          `Lists active fire incidents and resolves them by hand once a field team has cleared the site.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		zlog, err = logger.New(cfg.Log.Level, "console", "flames-incidentctl")
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resolveCmd)
}

func openDB() (*database.DB, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("incidentctl needs DB_DRIVER=%s, got %q", config.DriverPostgres, cfg.Database.Driver)
	}
	return database.Connect(cfg.Database.ConnectionString())
}
