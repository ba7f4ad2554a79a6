package lavago

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type socketHandlers struct {
	onMessage func([]byte)
	onOpen    func()
	onFailure func(error)
	onClose   func(code int, reason string, byRemote bool)
}

// Socket owns one node's event-socket connection and the reconnect state
// machine from spec §4.3/§5: open, mayReconnect, reconnectAttempts,
// lastAttemptMs, and the backoff-gated external reconnect probe.
type Socket struct {
	url     string
	headers func() http.Header
	dialer  *websocket.Dialer
	log     *zap.SugaredLogger
	h       socketHandlers

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// started latches true on the first successful Connect and then never
	// resets; it is the "socket != null" eligibility spec §4.3 means (the
	// persistent wrapper, not the live conn), so a failed redial still
	// leaves the probe free to try again on the next backoff window.
	started           bool
	open              bool
	mayReconnect      bool
	reconnectAttempts int
	lastAttemptMs     int64
}

func newSocket(wsURL string, headers func() http.Header, log *zap.SugaredLogger, h socketHandlers) *Socket {
	return &Socket{
		url:          wsURL,
		headers:      headers,
		log:          log,
		h:            h,
		dialer:       &websocket.Dialer{HandshakeTimeout: 45 * time.Second},
		mayReconnect: true,
	}
}

// Connect dials the socket and, on success, starts its read loop. On open:
// open = true, reconnectAttempts = 0.
func (s *Socket) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.headers())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.started = true
	s.reconnectAttempts = 0
	s.mu.Unlock()

	if s.h.onOpen != nil {
		s.h.onOpen()
	}
	go s.readLoop(conn)
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			stillCurrent := s.conn == conn
			if stillCurrent {
				s.open = false
			}
			s.mu.Unlock()
			if !stillCurrent {
				// Superseded by a newer Connect; this goroutine is stale.
				return
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				if ce.Code == websocket.CloseNormalClosure {
					s.mu.Lock()
					s.mayReconnect = false
					s.mu.Unlock()
				}
				if s.h.onClose != nil {
					s.h.onClose(ce.Code, ce.Text, true)
				}
				return
			}
			if s.h.onFailure != nil {
				s.h.onFailure(err)
			}
			return
		}
		if s.h.onMessage != nil {
			s.h.onMessage(data)
		}
	}
}

// Send writes a single text message. Concurrent Sends are serialized
// through writeMu since gorilla/websocket forbids concurrent writers on
// the same connection.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	s.mu.Unlock()
	if !open || conn == nil {
		return &NodeUnavailableError{}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Socket) MayReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mayReconnect
}

func (s *Socket) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// closeResidual discards the current connection without affecting
// mayReconnect — used by probe before dialing a fresh connection ("closing
// any residual socket with code 1000 first").
func (s *Socket) closeResidual() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.open = false
	s.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}

// Close permanently tears the socket down (final teardown, e.g.
// Node.Close): it always clears mayReconnect so the probe never attempts
// to reconnect afterward. Idempotent.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.open = false
	s.mayReconnect = false
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// backoffSeconds implements spec §4.3's "interval_seconds = (2·attempts −
// 0.2)", capped only by the probe cadence itself.
func backoffSeconds(attempts int) float64 {
	return 2*float64(attempts) - 0.2
}

// probe is the externally-invoked reconnect check from spec §4.3: if a
// socket has been started at least once, is closed, may still reconnect,
// and the backoff window has elapsed, issue a fresh connect after
// discarding any residual connection. Gating on started (not conn != nil)
// keeps a node eligible for the next attempt even after a failed redial,
// since Connect leaves conn nil on dial failure.
func (s *Socket) probe(ctx context.Context, now time.Time) {
	s.mu.Lock()
	started := s.started
	open := s.open
	mayReconnect := s.mayReconnect
	attempts := s.reconnectAttempts
	last := s.lastAttemptMs
	s.mu.Unlock()

	if !started || open || !mayReconnect {
		return
	}
	nowMs := now.UnixMilli()
	if float64(nowMs-last)/1000 <= backoffSeconds(attempts) {
		return
	}

	s.mu.Lock()
	s.lastAttemptMs = nowMs
	s.reconnectAttempts++
	s.mu.Unlock()

	s.closeResidual()
	if err := s.Connect(ctx); err != nil && s.log != nil {
		s.log.Warnw("reconnect attempt failed", "err", err)
	}
}
