package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/jarvis/internal/app"
	"github.com/antoniostano/jarvis/internal/config"
	"github.com/antoniostano/jarvis/internal/credential"
	"github.com/antoniostano/jarvis/internal/logging"
)

type flags struct {
	envFile  string
	port     int
	protocol string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "jarvis",
		Short:         "Relay realtime client audio to the Gemini bidirectional streaming API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	root.PersistentFlags().StringVar(&f.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")
	root.PersistentFlags().IntVar(&f.port, "port", 0, "listen port (overrides PORT)")
	root.PersistentFlags().StringVar(&f.protocol, "protocol", "", "upstream protocol variant (overrides UPSTREAM_PROTOCOL)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with the credential redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return printConfig(cmd, cfg)
		},
	})
	return root
}

func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	var envFiles []string
	if f.envFile != "" {
		envFiles = append(envFiles, f.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.BindAddr = net.JoinHostPort("", strconv.Itoa(f.port))
	}
	if f.protocol != "" {
		cfg.UpstreamProtocol = f.protocol
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func printConfig(cmd *cobra.Command, cfg config.Config) error {
	variant, err := cfg.Variant()
	if err != nil {
		return err
	}
	cred, ok := credential.Resolve(cfg.GeminiAPIKey)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bind_addr:           %s\n", cfg.BindAddr)
	fmt.Fprintf(out, "upstream_host:       %s\n", cfg.UpstreamHost)
	fmt.Fprintf(out, "upstream_protocol:   %s (%s)\n", variant.Name, variant.Casing)
	fmt.Fprintf(out, "upstream_path:       %s\n", variant.Path(cfg.Model))
	fmt.Fprintf(out, "model:               %s\n", cfg.Model)
	fmt.Fprintf(out, "voice:               %s\n", cfg.Voice)
	fmt.Fprintf(out, "response_modalities: %v\n", cfg.ResponseModalities)
	fmt.Fprintf(out, "kickstart:           %t (delay %s)\n", cfg.Kickstart(variant), cfg.KickstartDelay)
	fmt.Fprintf(out, "credential:          %s (present=%t)\n", cred, ok)
	fmt.Fprintf(out, "journal:             %s\n", journalMode(cfg))
	return nil
}

func journalMode(cfg config.Config) string {
	if cfg.DatabaseURL == "" {
		return "in-memory"
	}
	return "postgres"
}

func serve(cfg config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	if _, ok := built.Credentials.Resolve(); !ok {
		logger.Warn("GEMINI_API_KEY is not set; sessions will fail until it is configured")
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
		// Sessions inherit runCtx so shutdown reaches hijacked websockets.
		BaseContext: func(net.Listener) context.Context { return runCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay running",
			zap.String("addr", cfg.BindAddr),
			zap.String("protocol", built.Variant.Name),
			zap.String("model", cfg.Model),
			zap.Bool("kickstart", cfg.Kickstart(built.Variant)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}
