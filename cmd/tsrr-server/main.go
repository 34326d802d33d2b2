// Package main provides the TsRR evaluation server binary.
// The server exposes HTTP endpoints for scoring single queries and whole runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/tsrr/internal/config"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
	"github.com/ricesearch/tsrr/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tsrr-server",
		Short: "TsRR Server - HTTP retrieval evaluation service",
		Long: `TsRR Server scores ranked retrieval results with Tie-sensitive Reciprocal Rank.

The server exposes:
  - POST /v1/evaluation/score   score one ranked or labeled query
  - POST /v1/evaluation/runs    score a batch of queries
  - GET  /healthz, /readyz, /version, /metrics

Examples:
  tsrr-server                          # Start with defaults
  tsrr-server --port 9090              # Custom HTTP port
  tsrr-server --bus kafka              # Publish run events to Kafka`,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().Int("port", 8080, "HTTP server port")
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().String("bus", "", "event bus type (memory, kafka, redis)")
	rootCmd.Flags().String("variant", "", "default metric variant (combinatorial, log-penalty)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tsrr-server %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("bus") {
		cfg.Bus.Type, _ = cmd.Flags().GetString("bus")
	}
	if cmd.Flags().Changed("variant") {
		cfg.Metric.Variant, _ = cmd.Flags().GetString("variant")
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting TsRR Server",
		"version", version,
		"addr", cfg.Address(),
	)

	srv, err := server.New(cfg, version, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		_ = srv.Stop(context.Background())
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	}

	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	<-errCh
	return nil
}
