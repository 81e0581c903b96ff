package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketplace/reviewcore/internal/app"
	"github.com/marketplace/reviewcore/internal/config"
	"github.com/marketplace/reviewcore/internal/reconcile"
	"github.com/marketplace/reviewcore/pkg/logger"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitDrift      = 1
	ExitUsageError = 2
	ExitFailure    = 3
)

// openStores is replaced in tests.
var openStores = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app.Stores, error) {
	return app.OpenStores(ctx, cfg, log)
}

type runner struct {
	out      io.Writer
	exitCode int
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(args []string, out io.Writer) int {
	r := &runner{out: out}
	root := r.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)

	if err := root.Execute(); err != nil {
		if r.exitCode == ExitSuccess {
			return ExitUsageError
		}
	}
	return r.exitCode
}

func (r *runner) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Audit product rating aggregates",
		Long:          "reconcile recomputes product rating aggregates from their counted reviews and reports or repairs stored snapshots that drifted.",
		SilenceUsage: true,
	}
	root.AddCommand(r.runCmd(), r.staleCmd())
	return root
}

func (r *runner) runCmd() *cobra.Command {
	var (
		fix      bool
		products []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compare stored aggregates with their reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withStores(cmd.Context(), func(ctx context.Context, cfg *config.Config, stores *app.Stores, log *slog.Logger) error {
				report, err := stores.ReconcileJob(cfg, log).Run(ctx, reconcile.Options{
					ProductIDs: products,
					Fix:        fix,
				})
				if err != nil {
					r.exitCode = ExitFailure
					return err
				}

				if err := writeJSON(r.out, report); err != nil {
					r.exitCode = ExitFailure
					return err
				}

				switch {
				case report.Failed > 0:
					r.exitCode = ExitFailure
				case report.Drifted > report.Fixed:
					r.exitCode = ExitDrift
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite drifted snapshots")
	cmd.Flags().StringArrayVar(&products, "product", nil, "product id to check (repeatable); default is every known product")
	return cmd
}

func (r *runner) staleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List products flagged stale after a failed recompute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withStores(cmd.Context(), func(ctx context.Context, _ *config.Config, stores *app.Stores, _ *slog.Logger) error {
				ids, err := stores.Stale.StaleProducts(ctx)
				if err != nil {
					r.exitCode = ExitFailure
					return fmt.Errorf("list stale products: %w", err)
				}
				if ids == nil {
					ids = []string{}
				}
				if err := writeJSON(r.out, ids); err != nil {
					r.exitCode = ExitFailure
					return err
				}
				if len(ids) > 0 {
					r.exitCode = ExitDrift
				}
				return nil
			})
		},
	}
}

func (r *runner) withStores(
	parent context.Context,
	fn func(ctx context.Context, cfg *config.Config, stores *app.Stores, log *slog.Logger) error,
) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		r.exitCode = ExitUsageError
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter("review-reconcile", cfg.LogLevel, os.Stderr)

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		r.exitCode = ExitFailure
		return err
	}
	defer stores.Close()

	return fn(ctx, cfg, stores, log)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
