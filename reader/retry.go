package reader

import (
	"context"
	"log/slog"
	"time"

	"tapbridge/backoff"
)

// Policy is the retry rule for one class of hardware failure.
type Policy struct {
	// Attempts is the total number of tries; 1 means no retry.
	Attempts int
	// Delay is the wait after the given failed attempt.
	Delay func(attempt int) time.Duration
}

// DefaultPolicies is the retry table for serial I/O failures.
var DefaultPolicies = map[Kind]Policy{
	KindTimeout: {Attempts: 3, Delay: func(attempt int) time.Duration {
		return time.Duration(attempt) * 500 * time.Millisecond
	}},
	KindPermissionDenied: {Attempts: 1},
	KindNotFound:         {Attempts: 1},
	KindBusy: {Attempts: 3, Delay: func(int) time.Duration {
		return time.Second
	}},
	KindUnknown: {Attempts: 3, Delay: func(int) time.Duration {
		return 500 * time.Millisecond
	}},
}

// Retrying applies bounded retries to a TagReader and turns exhausted or
// unrecoverable failures into a *FatalError.
type Retrying struct {
	TagReader
	path     string
	policies map[Kind]Policy
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

// WithRetry wraps r using DefaultPolicies.
func WithRetry(r TagReader, path string, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		TagReader: r,
		path:      path,
		policies:  DefaultPolicies,
		sleep:     backoff.Sleep,
		logger:    logger,
	}
}

// Read implements TagReader.Read.
func (r *Retrying) Read(ctx context.Context) (string, error) {
	attempt := 0
	for {
		attempt++
		uid, err := r.TagReader.Read(ctx)
		if err == nil {
			return uid, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if IsFatal(err) {
			return "", err
		}

		kind := KindOf(err)
		policy, ok := r.policies[kind]
		if !ok {
			policy = Policy{Attempts: 1}
		}
		if attempt >= policy.Attempts {
			return "", &FatalError{Path: r.path, Attempts: attempt, Err: err}
		}

		var wait time.Duration
		if policy.Delay != nil {
			wait = policy.Delay(attempt)
		}
		r.logger.Warn("reader error, retrying",
			"device", r.path, "kind", kind.String(), "attempt", attempt, "wait", wait, "error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}
