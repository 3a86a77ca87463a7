package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a persistent, message-framed, bidirectional transport.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens upstream transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the upstream over gorilla/websocket.
type WebsocketDialer struct {
	// HandshakeTimeout of zero keeps the websocket default.
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		// The URL carries the credential and is never included here.
		if resp != nil {
			return nil, fmt.Errorf("dial upstream: %w (http %d %s)", err, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	return conn, nil
}

const writeTimeout = 10 * time.Second

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

func writeFrame(conn Conn, messageType int, data []byte) error {
	if dw, ok := conn.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

// closeConn sends a close frame before tearing the transport down.
func closeConn(conn Conn, code int, reason string) {
	_ = writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}
