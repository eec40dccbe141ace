package trigger

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// LocalDispatcher runs jobs in process with bounded concurrency.
type LocalDispatcher struct {
	runner   *Runner
	sem      *semaphore.Weighted
	size     int64
	base     context.Context
	onResult func(simplemedia.Job, *simplemedia.RunResult)
	logger   *slog.Logger
}

var _ simplemedia.Dispatcher = (*LocalDispatcher)(nil)

// LocalOption configures a LocalDispatcher.
type LocalOption func(*LocalDispatcher)

// WithResultHook is called after every job finishes.
func WithResultHook(fn func(simplemedia.Job, *simplemedia.RunResult)) LocalOption {
	return func(d *LocalDispatcher) { d.onResult = fn }
}

// WithBaseContext sets the context runs derive from. Cancelling it stops
// in-flight runs at their next step boundary.
func WithBaseContext(ctx context.Context) LocalOption {
	return func(d *LocalDispatcher) { d.base = ctx }
}

// WithLocalLogger sets the logger.
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(d *LocalDispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewLocalDispatcher runs at most concurrency jobs at once.
func NewLocalDispatcher(runner *Runner, concurrency int64, opts ...LocalOption) *LocalDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	d := &LocalDispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(concurrency),
		size:   concurrency,
		base:   context.Background(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch waits for a free slot, bounded by ctx, and starts the job in the
// background. The run itself is not tied to ctx.
func (d *LocalDispatcher) Dispatch(ctx context.Context, job simplemedia.Job) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer d.sem.Release(1)
		result := d.runner.Run(d.base, job)
		if !result.Success {
			d.logger.Error("ingestion job failed", "ref", job.Ref.String(), "kind", result.Err.Kind, "err", result.Err)
		}
		if d.onResult != nil {
			d.onResult(job, result)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished or ctx is done.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, d.size); err != nil {
		return err
	}
	d.sem.Release(d.size)
	return nil
}
