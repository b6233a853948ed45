package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nodebridge/relay/pkg/audit"
	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/executor"
	"github.com/nodebridge/relay/pkg/locks"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/ratelimit"
	"github.com/nodebridge/relay/pkg/security"
	"github.com/nodebridge/relay/pkg/worker"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "relay-worker",
	Short:   "Relay Worker - outbound-only remote action execution agent",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"relay-worker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("ollama-url", "http://localhost:11434", "Base URL for the local Ollama chat backend")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("load worker config: %w", err)
	}

	ollamaURL, _ := rootCmd.Flags().GetString("ollama-url")

	validator := security.NewValidator(executor.AutoActions, executor.ConfirmActions, executor.BlockedActions, cfg.AllowedRoots)
	limiter := ratelimit.New(cfg.RateLimitPerMin, config.RateLimitWindow)
	lockMgr := locks.NewManager()
	registry := executor.NewRegistry(executor.Options{OllamaURL: ollamaURL})
	auditLog := audit.New(cfg.AuditLogDir)
	defer auditLog.Close()

	router := worker.New(validator, limiter, lockMgr, registry, auditLog, worker.TerminalConfirm)
	conn := worker.NewConnection(cfg, router)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info(fmt.Sprintf("relay-worker connecting to %s", cfg.GatewayURL))
	conn.Run(ctx)
	log.Info("relay-worker shut down")
	return nil
}
