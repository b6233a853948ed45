package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/gateway"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/metrics"
	"github.com/nodebridge/relay/pkg/security"
	"github.com/nodebridge/relay/pkg/sshexec"
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
	Use:     "relay-gateway",
	Short:   "Relay Gateway - public HTTP API and Worker control surface",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return run(configPath)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"relay-gateway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to an optional YAML config file overlay")

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

func run(configPath string) error {
	cfg, err := config.LoadGatewayConfig(configPath)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	store, err := gateway.OpenIdempotencyStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer store.Close()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("idempotency_store", true, "")
	metrics.RegisterComponent("http_api", true, "")

	session := gateway.NewSession(cfg.AuthToken)
	fallback := sshexec.New(cfg)
	api := gateway.NewAPI(session, store, fallback, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wsMux := http.NewServeMux()
	wsMux.Handle("/agent/ws", session)
	wsServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.WSHost, cfg.WSPort), Handler: wsMux}

	httpServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort), Handler: api.Router()}

	tlsConfig, err := security.LoadServerTLSConfig(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if tlsConfig != nil {
			wsServer.TLSConfig = tlsConfig
			log.Info(fmt.Sprintf("WebSocket control surface listening on wss://%s", wsServer.Addr))
			errCh <- wsServer.ListenAndServeTLS("", "")
			return
		}
		log.Warn("TLS cert/key not configured — WebSocket control surface running WITHOUT TLS")
		log.Info(fmt.Sprintf("WebSocket control surface listening on ws://%s", wsServer.Addr))
		errCh <- wsServer.ListenAndServe()
	}()
	go func() {
		log.Info(fmt.Sprintf("HTTP API listening on http://%s", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down relay-gateway")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = wsServer.Shutdown(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
