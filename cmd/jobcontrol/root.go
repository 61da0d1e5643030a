package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/jobcontrol"
	"github.com/xraph/jobcontrol/engine"
	"github.com/xraph/jobcontrol/store"
)

const defaultConfigPath = "jobcontrol.yaml"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg     Config
	logger  *slog.Logger
	store   store.Store
	release func()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		a          = &app{release: func() {}}
	)

	rootCmd := &cobra.Command{
		Use:          "jobcontrol",
		Short:        "Background job queue host and admin tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.LogLevel)

			s, release, err := openStore(cmd.Context(), cfg.Store, a.logger)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
			}
			a.store, a.release = s, release
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.release()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(a),
		migrateCmd(a),
		enqueueCmd(a),
		listCmd(a),
		cancelCmd(a),
		cleanupCmd(a),
	)
	return rootCmd
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// engine builds a controller and engine over the opened store.
func (a *app) engine() (*engine.Engine, error) {
	c, err := jobcontrol.New(
		jobcontrol.WithConfig(a.cfg.Worker),
		jobcontrol.WithLogger(a.logger),
		jobcontrol.WithStore(a.store),
	)
	if err != nil {
		return nil, err
	}
	return engine.Build(c)
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", a.cfg.Store.Driver)
			return nil
		},
	}
}

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <type>",
		Short: "Cancel every pending, ready or running job of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine()
			if err != nil {
				return err
			}
			n, err := eng.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d %s jobs\n", n, args[0])
			return nil
		},
	}
}
