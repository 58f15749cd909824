package reader

import (
	"context"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("reader worker closed")

type job struct {
	fn    func() (string, error)
	reply chan result
}

type result struct {
	uid string
	err error
}

// Worker runs blocking device calls on one dedicated goroutine, so a
// device never sees two calls at once and callers can stop waiting when
// their context ends. A call abandoned by its caller still runs to
// completion before the next one starts.
type Worker struct {
	jobs chan job
	done chan struct{}
	once sync.Once
}

// NewWorker starts a worker goroutine.
func NewWorker() *Worker {
	w := &Worker{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case <-w.done:
			return
		case j := <-w.jobs:
			uid, err := j.fn()
			j.reply <- result{uid: uid, err: err}
		}
	}
}

// Do runs fn on the worker and waits for its result or for ctx to end.
func (w *Worker) Do(ctx context.Context, fn func() (string, error)) (string, error) {
	select {
	case <-w.done:
		return "", ErrWorkerClosed
	default:
	}

	j := job{fn: fn, reply: make(chan result, 1)}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.done:
		return "", ErrWorkerClosed
	case w.jobs <- j:
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-j.reply:
		return r.uid, r.err
	}
}

// Read polls r on the worker.
func (w *Worker) Read(ctx context.Context, r TagReader) (string, error) {
	return w.Do(ctx, func() (string, error) {
		return r.Read(ctx)
	})
}

// Close stops the worker after any call in progress returns.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.done) })
}
