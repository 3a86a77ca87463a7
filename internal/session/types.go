package session

// State is a relay session's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateHandshaking State = "handshaking"
	StateStreaming   State = "streaming"
	StateClosing     State = "closing"
	StateFailed      State = "failed"
	StateTerminated  State = "terminated"
)

// Counters tracks frames forwarded in each direction.
type Counters struct {
	ClientFrames   int64 `json:"client_frames"`
	ClientBytes    int64 `json:"client_bytes"`
	UpstreamFrames int64 `json:"upstream_frames"`
	UpstreamBytes  int64 `json:"upstream_bytes"`
	DroppedFrames  int64 `json:"dropped_frames"`
}
