package bridge

import (
	"context"
	"strings"
	"time"

	"tapbridge/event"
)

// TestUID is the card UID sent in single-test-event mode.
const TestUID = "DEADBEEF"

// NewManual builds a pipeline that sends one tap per line received on
// lines. Each line is a deliberate entry, so there is no debounce. The
// pipeline stops when lines is closed.
func NewManual(cfg Config, opts Options, lines <-chan string) *Pipeline {
	p := newPipeline(cfg, opts)
	p.body = func(ctx context.Context, sess Session) error {
		return p.forwardLines(ctx, sess, lines)
	}
	return p
}

func (p *Pipeline) forwardLines(ctx context.Context, sess Session, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errSourceDone
			}
			uid := strings.TrimSpace(line)
			if uid == "" {
				continue
			}
			p.send(ctx, sess, event.NewTap(uid, p.readerID, p.now()))
		}
	}
}

// SendTest dials once, authenticates and sends a single TestUID tap. It
// does not retry; any failure is returned.
func SendTest(ctx context.Context, opts Options) error {
	p := newPipeline(Config{}, opts)

	sess, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	tap := event.NewTap(TestUID, p.readerID, time.Now())
	if err := sess.Send(ctx, tap); err != nil {
		return err
	}
	p.logger.Info("test tap sent", "card_uid", tap.CardUID)
	return nil
}
