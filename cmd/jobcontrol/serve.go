package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/jobcontrol/cleanup"
)

func serveCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run worker loops until interrupted",
		Long: "Run worker loops until interrupted. The stale-job cleanup is registered " +
			"and its recurring job is installed once the host is ready.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if migrate {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
			}

			eng, err := a.engine()
			if err != nil {
				return err
			}
			if _, err := cleanup.Register(eng, a.cfg.Cleanup); err != nil {
				return err
			}

			if err := eng.Start(ctx); err != nil {
				return err
			}
			if err := eng.Ready(ctx); err != nil {
				a.logger.Error("ready hooks failed", slog.String("error", err.Error()))
			}
			a.logger.Info("jobcontrol serving",
				slog.String("store", a.cfg.Store.Driver),
				slog.Any("types", eng.Pool().Types()),
			)

			<-ctx.Done()
			a.logger.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Worker.ShutdownTimeout)
			defer cancel()
			return eng.Stop(stopCtx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}

func cleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale terminal jobs once, without the worker loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := cleanup.NewHandler(a.store, a.cfg.Cleanup, cleanup.WithLogger(a.logger))
			n, err := h.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale jobs\n", n)
			return nil
		},
	}
}
