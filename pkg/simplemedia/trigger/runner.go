package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Processor runs one ingestion job.
type Processor interface {
	ProcessUpload(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult
}

// Runner bounds each run with a timeout and retries retryable failures.
type Runner struct {
	processor   Processor
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunTimeout bounds a single attempt.
func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithRetries sets the total number of attempts and the pause between them.
func WithRetries(maxAttempts int, backoff time.Duration) RunnerOption {
	return func(r *Runner) {
		r.maxAttempts = maxAttempts
		r.backoff = backoff
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner. Defaults: 2 minute timeout, 3 attempts, 2s backoff.
func NewRunner(p Processor, opts ...RunnerOption) *Runner {
	r := &Runner{
		processor:   p,
		timeout:     2 * time.Minute,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

// Run executes job, retrying while the result is retryable and ctx is live.
// The last result is returned.
func (r *Runner) Run(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult {
	logger := r.logger.With("ref", job.Ref.String(), "source_url", job.SourceURL)

	var result *simplemedia.RunResult
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		result = r.attempt(ctx, job)
		if result.Success || !result.Retryable() || attempt == r.maxAttempts {
			break
		}

		logger.Warn("ingestion attempt failed, retrying",
			"attempt", attempt, "kind", result.Err.Kind, "err", result.Err)
		select {
		case <-ctx.Done():
			return result
		case <-time.After(r.backoff):
		}
	}
	return result
}

func (r *Runner) attempt(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.processor.ProcessUpload(ctx, job)
}
