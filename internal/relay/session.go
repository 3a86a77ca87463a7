package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/jarvis/internal/journal"
	"github.com/antoniostano/jarvis/internal/policy"
	"github.com/antoniostano/jarvis/internal/protocol"
	"github.com/antoniostano/jarvis/internal/reliability"
	"github.com/antoniostano/jarvis/internal/session"
)

// registryRefreshFrames controls how often live counters reach the registry.
const registryRefreshFrames = 50

type eventKind int

const (
	evClientFrame eventKind = iota
	evClientClosed
	evUpstreamOpen
	evUpstreamOpenFailed
	evUpstreamFrame
	evUpstreamClosed
	evKickstart
	evLingerElapsed
)

type event struct {
	kind    eventKind
	msgType int
	data    []byte
	conn    Conn
	err     error
}

// relaySession is the per-connection actor. Only run's goroutine touches its
// fields after start; readers and timers talk to it through events.
type relaySession struct {
	relay      *Relay
	id         string
	remoteAddr string
	startedAt  time.Time
	logger     *zap.Logger

	state      session.State
	client     Conn
	clientOpen bool
	upstream   Conn
	counters   session.Counters

	cause       error
	closeCode   int
	closeReason string

	events  chan event
	done    chan struct{}
	workers sync.WaitGroup

	// secret is redacted from any error text that leaves the session.
	secret string

	cancelDial  context.CancelFunc
	kickTimer   *time.Timer
	lingerTimer *time.Timer
}

func (s *relaySession) run(ctx context.Context) error {
	defer s.finish()

	s.logger.Info("client connected")
	s.workers.Add(1)
	go s.readClient()

	s.transition(session.StateConnecting)
	cred, ok := s.relay.creds.Resolve()
	if !ok {
		s.fail(ErrCredentialMissing)
	} else {
		s.secret = cred.Value()
		dialCtx, cancel := context.WithCancel(ctx)
		s.cancelDial = cancel
		url := s.relay.cfg.Variant.URL(s.relay.cfg.UpstreamHost, s.relay.cfg.Setup.Model, cred.Value())
		s.workers.Add(1)
		go s.dial(dialCtx, url)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session cancelled", zap.Error(ctx.Err()))
			s.closeAfterClient(fmt.Errorf("%w: %v", ErrClientClosed, ctx.Err()))
			return s.cause
		case ev := <-s.events:
			if s.handle(ev) {
				return s.cause
			}
		}
	}
}

// handle applies one event and reports whether the session is over.
func (s *relaySession) handle(ev event) bool {
	switch ev.kind {
	case evClientFrame:
		s.forwardClientToUpstream(ev.msgType, ev.data)
		return false
	case evClientClosed:
		s.clientOpen = false
		s.logger.Info("client disconnected", zap.Error(ev.err))
		s.closeAfterClient(ErrClientClosed)
		return true
	case evUpstreamOpen:
		return s.onUpstreamOpen(ev.conn)
	case evUpstreamOpenFailed:
		if s.state == session.StateConnecting {
			detail, _ := policy.RedactSecrets(ev.err.Error(), s.secret)
			s.logger.Warn("upstream open failed", zap.String("error", detail))
			s.fail(fmt.Errorf("%w: %s", ErrUpstreamOpen, detail))
		}
		return false
	case evUpstreamFrame:
		s.forwardUpstreamToClient(ev.msgType, ev.data)
		return false
	case evUpstreamClosed:
		if s.state != session.StateStreaming {
			return false
		}
		s.onUpstreamGone(ev.err)
		return true
	case evKickstart:
		if s.state != session.StateStreaming || s.upstream == nil {
			return false
		}
		if err := writeFrame(s.upstream, websocket.TextMessage, s.relay.kickstart); err != nil {
			s.onUpstreamGone(err)
			return true
		}
		s.logger.Debug("kickstart sent")
		return false
	case evLingerElapsed:
		return s.state == session.StateFailed
	default:
		return false
	}
}

func (s *relaySession) onUpstreamOpen(conn Conn) bool {
	if s.state != session.StateConnecting {
		_ = conn.Close()
		return false
	}
	s.upstream = conn
	s.relay.metrics.ObserveUpstreamOpen(time.Since(s.startedAt))
	s.logger.Info("upstream connected", zap.String("variant", s.relay.cfg.Variant.Name))
	s.transition(session.StateHandshaking)

	if err := writeFrame(conn, websocket.TextMessage, s.relay.setup); err != nil {
		s.logger.Warn("handshake send failed", zap.Error(err))
		s.fail(fmt.Errorf("%w: %v", ErrHandshake, err))
		return false
	}

	s.workers.Add(1)
	go s.readUpstream(conn)

	if s.relay.kickstart != nil {
		s.kickTimer = time.AfterFunc(s.relay.cfg.KickstartDelay, func() {
			s.post(event{kind: evKickstart})
		})
	}
	s.transition(session.StateStreaming)
	return false
}

func (s *relaySession) forwardClientToUpstream(msgType int, data []byte) {
	if s.upstream == nil || s.state != session.StateStreaming {
		s.drop(directionClientToUpstream)
		return
	}
	if err := writeFrame(s.upstream, msgType, data); err != nil {
		// Surfaced when the upstream reader observes the broken transport.
		s.logger.Debug("upstream write failed", zap.Error(err))
		s.drop(directionClientToUpstream)
		return
	}
	s.counters.ClientFrames++
	s.counters.ClientBytes += int64(len(data))
	s.relay.metrics.ObserveFrame(directionClientToUpstream, len(data))
	s.refreshRegistry()
}

func (s *relaySession) forwardUpstreamToClient(msgType int, data []byte) {
	if !s.clientOpen {
		s.drop(directionUpstreamToClient)
		return
	}
	if err := writeFrame(s.client, msgType, data); err != nil {
		s.logger.Debug("client write failed", zap.Error(err))
		s.drop(directionUpstreamToClient)
		return
	}
	s.counters.UpstreamFrames++
	s.counters.UpstreamBytes += int64(len(data))
	s.relay.metrics.ObserveFrame(directionUpstreamToClient, len(data))
	s.refreshRegistry()
}

func (s *relaySession) drop(direction string) {
	s.counters.DroppedFrames++
	s.relay.metrics.DroppedFrames.WithLabelValues(direction).Inc()
}

// onUpstreamGone tells the client why the upstream went away, then closes
// the client.
func (s *relaySession) onUpstreamGone(err error) {
	s.transition(session.StateClosing)
	s.closeUpstream()

	var notice protocol.Notice
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.cause = fmt.Errorf("%w: %d %s", ErrUpstreamClosed, ce.Code, ce.Text)
		s.closeCode, s.closeReason = ce.Code, ce.Text
		notice = protocol.Notice{Error: ErrUpstreamClosed.Error(), Code: ce.Code, Reason: ce.Text}
		s.relay.metrics.UpstreamCloses.WithLabelValues(reliability.CloseClass(ce.Code)).Inc()
		if reliability.IsExpectedClose(ce.Code) {
			s.logger.Info("upstream closed", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
		} else {
			s.logger.Warn("upstream closed", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
		}
	} else {
		detail, _ := policy.RedactSecrets(err.Error(), s.secret)
		s.cause = fmt.Errorf("%w: %s", ErrUpstreamRuntime, detail)
		notice = protocol.Notice{Error: s.cause.Error()}
		s.relay.metrics.UpstreamCloses.WithLabelValues("error").Inc()
		s.logger.Error("upstream error", zap.String("error", detail))
	}

	s.notifyClient(notice)
	s.closeClient()
}

// closeAfterClient tears the upstream down once the client is gone. No
// notice is sent upstream.
func (s *relaySession) closeAfterClient(cause error) {
	// A failed session keeps its failure as the terminal cause and goes
	// straight to terminated.
	if s.state != session.StateFailed {
		s.cause = cause
		s.transition(session.StateClosing)
	}
	s.closeUpstream()
}

// fail surfaces cause to the client and parks the session until the client
// hangs up or the linger elapses.
func (s *relaySession) fail(cause error) {
	s.cause = cause
	s.closeUpstream()
	s.transition(session.StateFailed)
	s.notifyClient(protocol.Notice{Error: cause.Error()})
	if linger := s.relay.cfg.FailureLinger; linger > 0 {
		s.lingerTimer = time.AfterFunc(linger, func() {
			s.post(event{kind: evLingerElapsed})
		})
	}
}

func (s *relaySession) notifyClient(n protocol.Notice) {
	if !s.clientOpen {
		s.logger.Warn("session error with no live client", zap.String("error", n.Error))
		return
	}
	raw, err := protocol.EncodeNotice(n)
	if err != nil {
		s.logger.Error("encode notice failed", zap.Error(err))
		return
	}
	if err := writeFrame(s.client, websocket.TextMessage, raw); err != nil {
		s.logger.Debug("notice delivery failed", zap.Error(err))
	}
}

func (s *relaySession) closeUpstream() {
	if s.upstream == nil {
		return
	}
	closeConn(s.upstream, websocket.CloseNormalClosure, "")
	s.upstream = nil
}

func (s *relaySession) closeClient() {
	if !s.clientOpen {
		return
	}
	closeConn(s.client, websocket.CloseNormalClosure, "upstream closed")
	s.clientOpen = false
}

func (s *relaySession) transition(next session.State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", zap.String("from", string(s.state)), zap.String("to", string(next)))
	s.state = next
	if next != session.StateTerminated {
		_ = s.relay.sessions.Update(s.id, next, s.counters)
	}
}

func (s *relaySession) refreshRegistry() {
	if (s.counters.ClientFrames+s.counters.UpstreamFrames)%registryRefreshFrames == 0 {
		_ = s.relay.sessions.Update(s.id, s.state, s.counters)
	}
}

// post delivers ev unless the session has already finished.
func (s *relaySession) post(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *relaySession) dial(ctx context.Context, url string) {
	defer s.workers.Done()
	conn, err := s.relay.dialer.Dial(ctx, url)
	if err != nil {
		s.post(event{kind: evUpstreamOpenFailed, err: err})
		return
	}
	if !s.post(event{kind: evUpstreamOpen, conn: conn}) {
		_ = conn.Close()
	}
}

func (s *relaySession) readClient() {
	defer s.workers.Done()
	for {
		msgType, data, err := s.client.ReadMessage()
		if err != nil {
			s.post(event{kind: evClientClosed, err: err})
			return
		}
		if !s.post(event{kind: evClientFrame, msgType: msgType, data: data}) {
			return
		}
	}
}

func (s *relaySession) readUpstream(conn Conn) {
	defer s.workers.Done()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.post(event{kind: evUpstreamClosed, err: err})
			return
		}
		if !s.post(event{kind: evUpstreamFrame, msgType: msgType, data: data}) {
			return
		}
	}
}

// finish releases every resource the session owns and records the outcome.
func (s *relaySession) finish() {
	close(s.done)
	if s.cancelDial != nil {
		s.cancelDial()
	}
	if s.kickTimer != nil {
		s.kickTimer.Stop()
	}
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
	}
	s.closeUpstream()
	if s.clientOpen {
		closeConn(s.client, websocket.CloseNormalClosure, "")
		s.clientOpen = false
	} else {
		_ = s.client.Close()
	}
	s.workers.Wait()

	// A dial can complete after the actor stopped listening.
drain:
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evUpstreamOpen && ev.conn != nil {
				_ = ev.conn.Close()
			}
		default:
			break drain
		}
	}

	lastState := s.state
	s.transition(session.StateTerminated)
	r := s.relay
	if _, err := r.sessions.End(s.id, s.counters); err != nil {
		s.logger.Warn("session registry end failed", zap.Error(err))
	}
	r.metrics.SessionEvents.WithLabelValues(causeName(s.cause)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.journal.Append(ctx, journal.Record{
		SessionID:      s.id,
		RemoteAddr:     s.remoteAddr,
		Variant:        r.cfg.Variant.Name,
		LastState:      string(lastState),
		Cause:          causeName(s.cause),
		CloseCode:      s.closeCode,
		CloseReason:    s.closeReason,
		ClientFrames:   s.counters.ClientFrames,
		ClientBytes:    s.counters.ClientBytes,
		UpstreamFrames: s.counters.UpstreamFrames,
		UpstreamBytes:  s.counters.UpstreamBytes,
		DroppedFrames:  s.counters.DroppedFrames,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("journal append failed", zap.Error(err))
	}

	s.logger.Info("session terminated",
		zap.String("cause", causeName(s.cause)),
		zap.String("last_state", string(lastState)),
		zap.Int64("client_frames", s.counters.ClientFrames),
		zap.Int64("upstream_frames", s.counters.UpstreamFrames),
		zap.Int64("dropped_frames", s.counters.DroppedFrames),
	)
}
