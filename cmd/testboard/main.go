package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/testboard"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen   string
	BasePath string
	Grace    time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createSummaryCommand(globalFlags),
		createHistoryCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "testboard",
		Short: "Test result dashboard backend",
		Long: `Testboard summarizes JSON test-run reports and pushes live updates
to dashboard viewers when result files change.

Examples:
  testboard serve --config testboard.toml
  testboard summary
  testboard history 20250308_022824`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long: `Start the HTTP server, the result directory watcher and the history
archiver. Logs go to a daily file in the configured log directory.

Examples:
  testboard serve
  testboard serve --config testboard.toml --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), globalFlags, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "override [server].base_path")
	cmd.Flags().DurationVar(&serveFlags.Grace, "shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

func runServe(parent context.Context, globalFlags *GlobalFlags, flags *ServeFlags) error {
	cfg, err := testboard.LoadConfig(globalFlags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.BasePath != "" {
		cfg.Server.BasePath = flags.BasePath
	}
	app, err := testboard.Open(cfg, testboard.LogContinuous)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := app.Serve(ctx, flags.Grace)
	if err := app.Close(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func createSummaryCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the current result summary as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(globalFlags, func(app *testboard.App) error {
				rep, err := app.Service().CurrentSummary()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func createHistoryCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history [key]",
		Short: "Print archived summaries, or one of them by key",
		Long: `Print the summaries of every archived result file in chronological order.
With a key, print the full summary of that file. Keys are accepted as
YYYYMMDD_HHMMSS or "YYYY-MM-DD HH:MM:SS".

Examples:
  testboard history
  testboard history 20250308_022824
  testboard history "2025-03-08 02:28:24"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(globalFlags, func(app *testboard.App) error {
				if len(args) == 1 {
					rep, err := app.Service().SummaryByKey(args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), rep)
				}
				entries, err := app.Service().HistorySummaries()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}
