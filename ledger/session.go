package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tapbridge/event"
)

// Session is one WebSocket connection to the ledger. It is not reused:
// once Done is closed the caller dials a new one.
type Session struct {
	conn   *websocket.Conn
	cfg    Config
	lane   string
	logger *slog.Logger

	writeMu sync.Mutex
	authed  atomic.Bool

	done     chan struct{}
	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// Dial opens a connection to the ledger endpoint for lane. The session is
// not authenticated yet.
func Dial(ctx context.Context, cfg Config, lane string, logger *slog.Logger) (*Session, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := Endpoint(cfg.URL, lane)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	logger.Debug("ledger connected", "endpoint", endpoint)
	return &Session{
		conn:   conn,
		cfg:    cfg,
		lane:   lane,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Authenticate sends the broadcaster auth message and waits for exactly
// one reply. Server pings that arrive first are answered and skipped. On
// success the session starts its heartbeat and read pump.
func (s *Session) Authenticate(ctx context.Context, secret string) error {
	if s.authed.Load() {
		return nil
	}

	deadline := time.Now().Add(s.cfg.AuthTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { s.fail(ctx.Err()) })
	defer stop()

	auth := authMessage{Type: TypeAuth, Role: RoleBroadcaster, Secret: secret, Lane: s.lane}
	if err := s.write(auth, deadline); err != nil {
		s.fail(err)
		return fmt.Errorf("send auth: %w", s.cause(err))
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.fail(err)
		return fmt.Errorf("await auth reply: %w", err)
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: no reply: %w", ErrAuthRejected, err)
		}

		var reply Message
		if err := json.Unmarshal(data, &reply); err != nil {
			s.Close()
			return fmt.Errorf("%w: malformed reply: %w", ErrAuthRejected, err)
		}
		if reply.Type == TypePing {
			if err := s.write(Message{Type: TypePong}, deadline); err != nil {
				s.fail(err)
				return fmt.Errorf("%w: %w", ErrAuthRejected, err)
			}
			continue
		}
		if reply.Type != TypeAuthSuccess {
			s.Close()
			if reply.Message != "" {
				return fmt.Errorf("%w: %s: %s", ErrAuthRejected, reply.Type, reply.Message)
			}
			return fmt.Errorf("%w: reply type %q", ErrAuthRejected, reply.Type)
		}
		break
	}

	s.authed.Store(true)
	go s.readPump()
	go s.heartbeat()
	return nil
}

// Authenticated reports whether the handshake completed.
func (s *Session) Authenticated() bool {
	return s.authed.Load()
}

// Send writes one tap message. A failed write ends the session.
func (s *Session) Send(ctx context.Context, tap event.Tap) error {
	if !s.authed.Load() {
		return ErrNotAuthenticated
	}
	select {
	case <-s.done:
		return s.Err()
	default:
	}

	readerID := tap.ReaderID
	if readerID == "" {
		readerID = s.lane
	}
	msg := Message{
		Type:     TypeTap,
		CardUID:  tap.CardUID,
		Lane:     readerID,
		ReaderID: readerID,
		ReaderTS: tap.ObservedAt.UTC().Format(time.RFC3339Nano),
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.write(msg, deadline); err != nil {
		s.fail(err)
		return fmt.Errorf("send tap %s: %w", tap.CardUID, s.cause(err))
	}
	return nil
}

// Done is closed when the connection is lost or closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is alive. The error
// always matches ErrSessionClosed.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close sends a normal close frame and drops the connection.
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.fail(ErrSessionClosed)
	return nil
}

func (s *Session) write(msg any, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// fail records the first cause, closes Done and drops the connection.
func (s *Session) fail(cause error) {
	s.failOnce.Do(func() {
		err := cause
		if !errors.Is(err, ErrSessionClosed) {
			err = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
		}
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		close(s.done)
		s.conn.Close()
	})
}

// cause prefers a recorded cancellation over the I/O error it produced.
func (s *Session) cause(err error) error {
	recorded := s.Err()
	if errors.Is(recorded, context.Canceled) || errors.Is(recorded, context.DeadlineExceeded) {
		return recorded
	}
	return err
}

func (s *Session) idleDeadline() time.Time {
	return time.Now().Add(s.cfg.PingInterval + s.cfg.PongTimeout)
}

// readPump consumes inbound frames for the life of the session. Any frame,
// pong included, pushes the idle deadline out.
func (s *Session) readPump() {
	_ = s.conn.SetReadDeadline(s.idleDeadline())
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.idleDeadline())
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("ledger closed the connection")
			} else {
				select {
				case <-s.done:
				default:
					s.logger.Warn("ledger connection lost", "error", err)
				}
			}
			s.fail(err)
			return
		}
		_ = s.conn.SetReadDeadline(s.idleDeadline())

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed ledger message", "error", err)
			continue
		}
		switch msg.Type {
		case TypePing:
			if err := s.write(Message{Type: TypePong}, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.fail(err)
				return
			}
		case TypeError:
			s.logger.Warn("ledger reported an error", "message", msg.Message)
		default:
			s.logger.Debug("ledger message", "type", msg.Type)
		}
	}
}

// heartbeat sends protocol pings so idle sessions stay open. Each ping
// shortens the read deadline to PongTimeout, so an unanswered ping ends the
// session even if other frames arrived recently.
func (s *Session) heartbeat() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			if err == nil {
				err = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			}
			s.writeMu.Unlock()
			if err != nil {
				s.fail(err)
				return
			}
		}
	}
}
