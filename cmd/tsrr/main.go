package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/tsrr/internal/bus"
	"github.com/ricesearch/tsrr/internal/config"
	"github.com/ricesearch/tsrr/internal/evaluation"
	"github.com/ricesearch/tsrr/internal/mcp"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tsrr",
		Short: "TsRR - Tie-sensitive Reciprocal Rank for retrieval evaluation",
		Long: `tsrr scores ranked retrieval results with Tie-sensitive Reciprocal Rank,
a reciprocal-rank metric that accounts for ties in retrieval scores.

Run 'tsrr score run.jsonl' to evaluate a run file.
Run 'tsrr --help' for available commands.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		scoreCmd(),
		watchCmd(),
		mcpCmd(),
		versionCmd(),
	)
	return rootCmd
}

// setup loads configuration and builds the logger shared by all commands.
func setup(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// remoteBus opens the configured bus unless it is the in-process one,
// which nothing outside this process could observe.
func remoteBus(cfg *config.Config, log *logger.Logger) (bus.Bus, error) {
	switch strings.ToLower(cfg.Bus.Type) {
	case "", "memory":
		return nil, nil
	}
	return bus.NewBus(cfg.Bus, log)
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <run-file>",
		Short: "Score a run file",
		Long: `Score every query in a run file and print per-query TsRR with the
RR, PRR and ta-RR baselines.

Run files may be .json, .jsonl/.ndjson or .yaml/.yml, optionally zstd
compressed (.zst). Each query is either ranked:

  {"id": "q1", "items": [{"score": 0.9, "relevant": false}, ...]}

or labeled:

  {"id": "q2", "target": "cat", "labels": ["dog", "cat"], "similarities": [0.8, 0.8]}

When a kafka or redis bus is configured, a completion event is published.`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}

	cmd.Flags().String("variant", "", "metric variant (combinatorial, log-penalty)")
	cmd.Flags().Float64("alpha", evaluation.DefaultAlpha, "tie sensitivity for the log-penalty variant")
	cmd.Flags().String("reduction", "", "aggregation across queries (mean, none)")
	cmd.Flags().Int("workers", 0, "concurrent scoring workers")
	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")

	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}

	// Flags override config
	if cmd.Flags().Changed("variant") {
		cfg.Metric.Variant, _ = cmd.Flags().GetString("variant")
	}
	if cmd.Flags().Changed("alpha") {
		cfg.Metric.Alpha, _ = cmd.Flags().GetFloat64("alpha")
	}
	if cmd.Flags().Changed("reduction") {
		cfg.Metric.Reduction, _ = cmd.Flags().GetString("reduction")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Metric.Workers, _ = cmd.Flags().GetInt("workers")
	}

	run, err := evaluation.LoadRun(args[0])
	if err != nil {
		return err
	}

	opts := []evaluation.EvaluatorOption{evaluation.WithLogger(log)}
	b, err := remoteBus(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	if b != nil {
		defer b.Close()
		opts = append(opts, evaluation.WithBus(b))
	}

	e, err := evaluation.NewEvaluator(evaluation.SettingsFromConfig(cfg.Metric), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := e.EvaluateRun(ctx, *run)
	if err != nil {
		return err
	}

	return writeReport(cmd.OutOrStdout(), report, format)
}

func writeReport(w io.Writer, report *evaluation.RunReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err := io.WriteString(w, renderReport(report))
	return err
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print evaluation events from the configured bus",
		Long: `Subscribe to evaluation completed and failed events on the configured
kafka or redis bus and print each one as a JSON line until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			b, err := remoteBus(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to connect event bus: %w", err)
			}
			if b == nil {
				return fmt.Errorf("watch needs a kafka or redis bus (set TSRR_BUS_TYPE)")
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := newLineWriter(cmd.OutOrStdout())
			err = evaluation.SubscribeRunEvents(ctx, b, evaluation.RunEventHandlers{
				Completed: func(_ context.Context, ev evaluation.CompletedEvent) {
					out.write(watchLine{Event: "completed", Completed: &ev})
				},
				Failed: func(_ context.Context, ev evaluation.FailedEvent) {
					out.write(watchLine{Event: "failed", Failed: &ev})
				},
			})
			if err != nil {
				return err
			}

			log.Info("watching evaluation events", "bus", cfg.Bus.Type)
			<-ctx.Done()
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve TsRR tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
tsrr_score, tsrr_labeled and tsrr_run tools. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			e, err := evaluation.NewEvaluator(evaluation.SettingsFromConfig(cfg.Metric), evaluation.WithLogger(log))
			if err != nil {
				return err
			}

			return mcp.NewServer(mcp.NewHandler(e, log), version).ServeStdio()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tsrr %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
