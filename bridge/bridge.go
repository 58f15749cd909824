// Package bridge runs reader pipelines: it keeps an authenticated ledger
// session open and feeds it taps from a hardware reader or from manual
// entry.
//
// A pipeline has two retry loops. The network loop dials and authenticates,
// waiting between attempts with a doubling backoff, and resets that backoff
// after every successful authentication. The hardware loop runs inside a
// live session: a fatal reader error closes the reader, waits its own
// backoff, probes the device and reopens it, all without touching the
// session.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tapbridge/backoff"
	"tapbridge/event"
	"tapbridge/ledger"
	"tapbridge/presence"
)

// Session is the part of a ledger session a pipeline needs.
type Session interface {
	Authenticate(ctx context.Context, secret string) error
	Send(ctx context.Context, tap event.Tap) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens an unauthenticated session for a lane.
type Dialer func(ctx context.Context, lane string) (Session, error)

var _ Session = (*ledger.Session)(nil)

// LedgerDialer dials the ledger WebSocket endpoint.
func LedgerDialer(cfg ledger.Config, logger *slog.Logger) Dialer {
	return func(ctx context.Context, lane string) (Session, error) {
		return ledger.Dial(ctx, cfg, lane, logger)
	}
}

// Window is a backoff floor and ceiling.
type Window struct {
	Floor   time.Duration `yaml:"floor"`
	Ceiling time.Duration `yaml:"ceiling"`
}

// Config holds pipeline timing.
type Config struct {
	Debounce        time.Duration `yaml:"debounce"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	NetworkBackoff  Window        `yaml:"network_backoff"`
	HardwareBackoff Window        `yaml:"hardware_backoff"`
}

// WithDefaults fills unset values.
func (c Config) WithDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = presence.DefaultWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.NetworkBackoff.Floor <= 0 {
		c.NetworkBackoff.Floor = time.Second
	}
	if c.NetworkBackoff.Ceiling <= 0 {
		c.NetworkBackoff.Ceiling = 60 * time.Second
	}
	if c.HardwareBackoff.Floor <= 0 {
		c.HardwareBackoff.Floor = time.Second
	}
	if c.HardwareBackoff.Ceiling <= 0 {
		c.HardwareBackoff.Ceiling = 30 * time.Second
	}
	return c
}

// State is a pipeline status change reported to an Observer.
type State string

const (
	StateOnline         State = "online"
	StateConnectionLost State = "connection_lost"
	StateReaderFault    State = "reader_fault"
	StateTap            State = "tap"
	StateShutdown       State = "shutdown"
)

// Observer receives status changes. Calls come from pipeline goroutines
// and may be concurrent when several pipelines run.
type Observer interface {
	Report(readerID string, state State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(readerID string, state State)

// Report implements Observer.Report.
func (f ObserverFunc) Report(readerID string, state State) { f(readerID, state) }

type nopObserver struct{}

func (nopObserver) Report(string, State) {}

// Options are the per-pipeline collaborators.
type Options struct {
	ReaderID string
	Secret   string
	Dial     Dialer
	Observer Observer
	Logger   *slog.Logger
}

// body consumes one live session until it ends. It returns errSourceDone
// when the tap source is exhausted and the pipeline should stop.
type body func(ctx context.Context, sess Session) error

var errSourceDone = errors.New("tap source finished")

// Pipeline is one reader's bridge to the ledger.
type Pipeline struct {
	cfg      Config
	readerID string
	secret   string
	dial     Dialer
	observer Observer
	logger   *slog.Logger

	body    body
	cleanup func()

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func newPipeline(cfg Config, opts Options) *Pipeline {
	p := &Pipeline{
		cfg:      cfg.WithDefaults(),
		readerID: opts.ReaderID,
		secret:   opts.Secret,
		dial:     opts.Dial,
		observer: opts.Observer,
		logger:   opts.Logger,
		sleep:    backoff.Sleep,
		now:      time.Now,
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("reader_id", p.readerID)
	return p
}

// ReaderID returns the pipeline's logical reader id.
func (p *Pipeline) ReaderID() string {
	return p.readerID
}

// Run is the network loop. It returns nil when ctx is cancelled or the tap
// source is exhausted; it never gives up on the ledger by itself.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		if p.cleanup != nil {
			p.cleanup()
		}
		p.observer.Report(p.readerID, StateShutdown)
		p.logger.Info("pipeline stopped")
	}()

	bo := backoff.New(p.cfg.NetworkBackoff.Floor, p.cfg.NetworkBackoff.Ceiling)
	for {
		if ctx.Err() != nil {
			return nil
		}

		sess, err := p.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.Next()
			p.logger.Warn("ledger unavailable", "error", err, "attempt", bo.Attempt(), "retry_in", wait)
			p.observer.Report(p.readerID, StateConnectionLost)
			if p.sleep(ctx, wait) != nil {
				return nil
			}
			continue
		}

		bo.Reset()
		p.logger.Info("ledger session authenticated")
		p.observer.Report(p.readerID, StateOnline)

		err = p.serve(ctx, sess)
		sess.Close()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errSourceDone) {
			return nil
		}

		wait := bo.Next()
		p.logger.Warn("ledger session lost", "error", err, "retry_in", wait)
		p.observer.Report(p.readerID, StateConnectionLost)
		if p.sleep(ctx, wait) != nil {
			return nil
		}
	}
}

func (p *Pipeline) connect(ctx context.Context) (Session, error) {
	sess, err := p.dial(ctx, p.readerID)
	if err != nil {
		return nil, err
	}
	if err := sess.Authenticate(ctx, p.secret); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// serve runs the body with a context that ends with the session.
func (p *Pipeline) serve(ctx context.Context, sess Session) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-sessCtx.Done():
		}
	}()

	err := p.body(sessCtx, sess)
	if errors.Is(err, errSourceDone) {
		return err
	}
	if sessErr := sess.Err(); sessErr != nil {
		return sessErr
	}
	return err
}

// send hands one tap to the session. A failed send drops the tap; the
// session's own failure handling ends the body if the connection is gone.
func (p *Pipeline) send(ctx context.Context, sess Session, tap event.Tap) {
	p.observer.Report(p.readerID, StateTap)
	if err := sess.Send(ctx, tap); err != nil {
		p.logger.Warn("tap dropped", "card_uid", tap.CardUID, "error", err)
		return
	}
	p.logger.Info("tap sent", "card_uid", tap.CardUID)
}
