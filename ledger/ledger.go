// Package ledger is the bridge's connection to the remote ledger service:
// a WebSocket session that authenticates as a broadcaster and streams tap
// events.
//
// # Protocol
//
// After the upgrade the client sends one auth message and waits for one
// reply; only a reply of type "auth_success" authenticates the session:
//
//	-> {"type":"auth","role":"broadcaster","secret":"...","lane":"reader-1"}
//	<- {"type":"auth_success","role":"broadcaster","lane":"reader-1"}
//
// Taps are then sent one message each. lane and reader_id carry the same
// value because older consumers only read lane:
//
//	-> {"type":"tap","card_uid":"04A23B1C","reader_id":"reader-1","lane":"reader-1","reader_ts":"2026-01-05T09:00:00.123Z"}
//
// The session pings every PingInterval and drops the connection when no
// pong or other message arrives within PongTimeout after that. Server-side
// {"type":"ping"} messages are answered with {"type":"pong"}.
package ledger

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Message types.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeTap         = "tap"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"

	RoleBroadcaster = "broadcaster"

	// DefaultPath is the WebSocket endpoint on the ledger's web server.
	DefaultPath = "/api/nfc/ws"
)

var (
	// ErrAuthRejected is returned when the server answers the auth message
	// with anything but auth_success.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrNotAuthenticated is returned by Send on a session that has not
	// completed the handshake.
	ErrNotAuthenticated = errors.New("session not authenticated")

	// ErrSessionClosed is returned once the underlying connection is gone.
	ErrSessionClosed = errors.New("session closed")
)

// Config holds ledger connection settings.
type Config struct {
	URL           string        `yaml:"url"`
	Secret        string        `yaml:"secret"`
	RequireSecret bool          `yaml:"require_secret"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	PongTimeout   time.Duration `yaml:"pong_timeout"`
	AuthTimeout   time.Duration `yaml:"auth_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// WithDefaults fills unset timeouts.
func (c Config) WithDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Message is the envelope of every frame exchanged with the ledger.
type Message struct {
	Type     string `json:"type"`
	Role     string `json:"role,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Lane     string `json:"lane,omitempty"`
	CardUID  string `json:"card_uid,omitempty"`
	ReaderID string `json:"reader_id,omitempty"`
	ReaderTS string `json:"reader_ts,omitempty"`
	Message  string `json:"message,omitempty"`
}

// authMessage is the broadcaster handshake. Every key is always sent, an
// unset secret as "".
type authMessage struct {
	Type   string `json:"type"`
	Role   string `json:"role"`
	Secret string `json:"secret"`
	Lane   string `json:"lane"`
}

// Endpoint turns the configured base URL into the WebSocket endpoint for
// a lane. http and https map to ws and wss; an empty path selects
// DefaultPath.
func Endpoint(base, lane string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse ledger url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("ledger url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ledger url %q: missing host", base)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	if lane != "" {
		q := u.Query()
		q.Set("lane", lane)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
