package bridge

import (
	"context"
	"time"

	"tapbridge/backoff"
	"tapbridge/presence"
	"tapbridge/reader"
)

// Device opens and probes one physical reader.
type Device struct {
	Path  string
	Open  func() (reader.TagReader, error)
	Probe func() error
}

// hardware is the reader state that outlives individual sessions.
type hardware struct {
	dev     Device
	worker  *reader.Worker
	reader  reader.TagReader
	tracker *presence.Tracker
	backoff *backoff.Backoff
	faulted bool
}

// NewHardware builds a pipeline that polls dev and sends debounced taps.
func NewHardware(cfg Config, opts Options, dev Device) *Pipeline {
	p := newPipeline(cfg, opts)
	hw := &hardware{
		dev:     dev,
		worker:  reader.NewWorker(),
		tracker: presence.New(p.readerID, p.cfg.Debounce),
		backoff: backoff.New(p.cfg.HardwareBackoff.Floor, p.cfg.HardwareBackoff.Ceiling),
	}
	p.logger = p.logger.With("device", dev.Path)
	p.body = func(ctx context.Context, sess Session) error {
		return p.pollReader(ctx, sess, hw)
	}
	p.cleanup = func() { p.closeReader(hw); hw.worker.Close() }
	return p
}

// pollReader is the hardware loop. It returns only when ctx ends.
func (p *Pipeline) pollReader(ctx context.Context, sess Session, hw *hardware) error {
	for {
		if err := p.ensureReader(ctx, hw); err != nil {
			return err
		}

		uid, err := hw.worker.Read(ctx, hw.reader)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if reader.IsFatal(err) {
				p.logger.Error("reader failed, recovering", "error", err)
			} else {
				p.logger.Error("reader error, recovering", "error", err)
			}
			p.observer.Report(p.readerID, StateReaderFault)
			p.closeReader(hw)
			hw.faulted = true
			continue
		}

		if tap, ok := hw.tracker.Observe(uid, p.now()); ok {
			p.send(ctx, sess, tap)
		}

		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// ensureReader opens the reader if needed. After a fault it waits the
// hardware backoff and probes the device before each reopen.
func (p *Pipeline) ensureReader(ctx context.Context, hw *hardware) error {
	for hw.reader == nil {
		if hw.faulted {
			wait := hw.backoff.Next()
			p.logger.Info("waiting before probing reader", "attempt", hw.backoff.Attempt(), "wait", wait)
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
			if hw.dev.Probe != nil {
				if err := hw.dev.Probe(); err != nil {
					p.logger.Warn("reader probe failed", "error", err)
					continue
				}
			}
		}

		r, err := hw.dev.Open()
		if err != nil {
			p.logger.Error("open reader", "error", err)
			p.observer.Report(p.readerID, StateReaderFault)
			hw.faulted = true
			continue
		}
		hw.reader = reader.WithRetry(r, hw.dev.Path, p.logger)

		if hw.faulted {
			p.logger.Info("reader recovered", "attempts", hw.backoff.Attempt())
			p.observer.Report(p.readerID, StateOnline)
		} else {
			p.logger.Info("reader opened")
		}
		hw.faulted = false
		hw.backoff.Reset()
	}
	return nil
}

// closeReader closes the reader on the worker so it never races a read
// still in flight.
func (p *Pipeline) closeReader(hw *hardware) {
	if hw.reader == nil {
		return
	}
	r := hw.reader
	hw.reader = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := hw.worker.Do(ctx, func() (string, error) {
		return "", r.Close()
	})
	if err != nil {
		p.logger.Debug("close reader", "error", err)
	}
}
