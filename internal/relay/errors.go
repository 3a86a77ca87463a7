package relay

import "errors"

var (
	ErrCredentialMissing = errors.New("upstream credential missing")
	ErrUpstreamOpen      = errors.New("upstream open failed")
	ErrHandshake         = errors.New("upstream handshake failed")
	ErrUpstreamRuntime   = errors.New("upstream error")
	ErrUpstreamClosed    = errors.New("upstream closed")
	ErrClientClosed      = errors.New("client closed")
)

// causeName labels a terminal cause for metrics and the journal.
func causeName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, ErrUpstreamOpen):
		return "upstream_open_failure"
	case errors.Is(err, ErrHandshake):
		return "handshake_failure"
	case errors.Is(err, ErrUpstreamRuntime):
		return "upstream_runtime_error"
	case errors.Is(err, ErrUpstreamClosed):
		return "upstream_closed"
	case errors.Is(err, ErrClientClosed):
		return "client_closed"
	default:
		return "unknown"
	}
}
