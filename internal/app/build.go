package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/antoniostano/jarvis/internal/config"
	"github.com/antoniostano/jarvis/internal/credential"
	"github.com/antoniostano/jarvis/internal/httpapi"
	"github.com/antoniostano/jarvis/internal/journal"
	"github.com/antoniostano/jarvis/internal/observability"
	"github.com/antoniostano/jarvis/internal/protocol"
	"github.com/antoniostano/jarvis/internal/relay"
	"github.com/antoniostano/jarvis/internal/session"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Relay       *relay.Relay
	Sessions    *session.Manager
	Metrics     *observability.Metrics
	Variant     protocol.Variant
	Credentials *credential.Resolver

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires the relay service. A nil reg registers metrics on the default
// Prometheus registry.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	variant, err := cfg.Variant()
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	store, err := journal.NewStore(ctx, cfg.DatabaseURL, cfg.JournalRetention)
	if err != nil {
		return nil, fmt.Errorf("session journal init failed: %w", err)
	}

	creds := credential.NewResolver(cfg.GeminiAPIKey)
	sessions := session.NewManager()
	sessions.SetEndHook(func(ended *session.Session) {
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		logger.Debug("session removed from registry",
			zap.String("session_id", ended.ID),
			zap.String("state", string(ended.State)),
		)
	})

	rel, err := relay.New(relay.Config{
		UpstreamHost: cfg.UpstreamHost,
		Variant:      variant,
		Setup: protocol.Setup{
			Model:              cfg.Model,
			ResponseModalities: cfg.ResponseModalities,
			VoiceName:          cfg.Voice,
			SystemInstruction:  cfg.SystemInstruction,
		},
		Kickstart:      cfg.Kickstart(variant),
		KickstartText:  cfg.KickstartText,
		KickstartDelay: cfg.KickstartDelay,
		FailureLinger:  cfg.SessionFailureLinger,
	}, creds, relay.WebsocketDialer{HandshakeTimeout: cfg.UpstreamDialTimeout}, sessions, store, metrics, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("relay init failed: %w", err)
	}

	api := httpapi.New(cfg, sessions, rel, creds, store, metrics, logger)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Relay:       rel,
		Sessions:    sessions,
		Metrics:     metrics,
		Variant:     variant,
		Credentials: creds,
		Cleanup:     store.Close,
	}, nil
}
