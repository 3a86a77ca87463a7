package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/jarvis/internal/credential"
	"github.com/antoniostano/jarvis/internal/journal"
	"github.com/antoniostano/jarvis/internal/observability"
	"github.com/antoniostano/jarvis/internal/protocol"
	"github.com/antoniostano/jarvis/internal/session"
)

const (
	directionClientToUpstream = "client_to_upstream"
	directionUpstreamToClient = "upstream_to_client"
)

// Config is the process-wide, read-only relay configuration shared by every
// session.
type Config struct {
	UpstreamHost   string
	Variant        protocol.Variant
	Setup          protocol.Setup
	Kickstart      bool
	KickstartText  string
	KickstartDelay time.Duration
	// FailureLinger bounds how long a failed session keeps the client
	// transport open so the error notice can be read. Zero waits for the
	// client to hang up.
	FailureLinger time.Duration
}

// CredentialSource yields the upstream credential, or false when absent.
type CredentialSource interface {
	Resolve() (credential.Credential, bool)
}

// Relay pairs each client connection with one upstream connection.
type Relay struct {
	cfg       Config
	creds     CredentialSource
	dialer    Dialer
	sessions  *session.Manager
	journal   journal.Store
	metrics   *observability.Metrics
	logger    *zap.Logger
	setup     []byte
	kickstart []byte
}

func New(
	cfg Config,
	creds CredentialSource,
	dialer Dialer,
	sessions *session.Manager,
	store journal.Store,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Relay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	setup, err := protocol.BuildSetup(cfg.Variant, cfg.Setup)
	if err != nil {
		return nil, fmt.Errorf("build setup message: %w", err)
	}
	r := &Relay{
		cfg:      cfg,
		creds:    creds,
		dialer:   dialer,
		sessions: sessions,
		journal:  store,
		metrics:  metrics,
		logger:   logger,
		setup:    setup,
	}
	if cfg.Kickstart {
		r.kickstart, err = protocol.BuildKickstart(cfg.Variant, cfg.KickstartText)
		if err != nil {
			return nil, fmt.Errorf("build kickstart message: %w", err)
		}
	}
	return r, nil
}

// Serve runs one session over client until it terminates and returns the
// terminal cause. Cancelling ctx ends the session as if the client had
// hung up.
func (r *Relay) Serve(ctx context.Context, client Conn, remoteAddr string) error {
	reg := r.sessions.Create(remoteAddr, r.cfg.Variant.Name)
	r.metrics.SessionEvents.WithLabelValues("started").Inc()
	r.metrics.ActiveSessions.Set(float64(r.sessions.ActiveCount()))

	s := &relaySession{
		relay:      r,
		id:         reg.ID,
		remoteAddr: remoteAddr,
		startedAt:  reg.StartedAt,
		state:      session.StateIdle,
		client:     client,
		clientOpen: true,
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		logger: r.logger.With(
			zap.String("session_id", reg.ID),
			zap.String("remote_addr", remoteAddr),
		),
	}
	return s.run(ctx)
}
