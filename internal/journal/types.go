package journal

import (
	"context"
	"time"
)

// Record is the audit entry written when a relay session ends. It is never
// used to resume a session.
type Record struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	RemoteAddr     string    `json:"remote_addr"`
	Variant        string    `json:"variant"`
	LastState      string    `json:"last_state"`
	Cause          string    `json:"cause"`
	CloseCode      int       `json:"close_code,omitempty"`
	CloseReason    string    `json:"close_reason,omitempty"`
	ClientFrames   int64     `json:"client_frames"`
	ClientBytes    int64     `json:"client_bytes"`
	UpstreamFrames int64     `json:"upstream_frames"`
	UpstreamBytes  int64     `json:"upstream_bytes"`
	DroppedFrames  int64     `json:"dropped_frames"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// Store persists finished-session records.
type Store interface {
	Append(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Mode() string
	Close() error
}
