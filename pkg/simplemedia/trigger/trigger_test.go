package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

var testJob = simplemedia.Job{
	SourceURL: "https://cdn.example.com/submissions/u1/a.png",
	Ref:       simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failed(kind simplemedia.Kind) *simplemedia.RunResult {
	return &simplemedia.RunResult{Err: &simplemedia.StepError{Step: simplemedia.StepFetch, Kind: kind, Err: errors.New(string(kind))}}
}

// scriptedProcessor returns results in order, repeating the last one.
type scriptedProcessor struct {
	mu      sync.Mutex
	results []*simplemedia.RunResult
	calls   int
	jobs    []simplemedia.Job
	delay   time.Duration
	hadDead atomic.Bool
}

func (p *scriptedProcessor) ProcessUpload(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if _, ok := ctx.Deadline(); ok {
		p.hadDead.Store(true)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	i := min(p.calls, len(p.results)-1)
	p.calls++
	return p.results[i]
}

func TestMessageCodec(t *testing.T) {
	data, err := Encode(testJob)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source_url":"https://cdn.example.com/submissions/u1/a.png","owner_id":"u1","role":"submission_image","submission_id":"s1"}`, string(data))

	job, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, testJob, job)

	job, err = Decode([]byte(`{"source_url":"https://x/profiles/u1/a.png","owner_id":"u1","role":"profile"}`))
	require.NoError(t, err)
	assert.Equal(t, simplemedia.RoleProfile, job.Ref.Role)

	for _, bad := range []string{`not json`, `{"owner_id":"u1","role":"profile"}`, `{"source_url":"x","owner_id":"u1","role":"banner"}`} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidMessage, bad)
	}
}

func TestRunner(t *testing.T) {
	ok := &simplemedia.RunResult{Success: true}

	tests := []struct {
		name      string
		results   []*simplemedia.RunResult
		wantCalls int
		wantOK    bool
	}{
		{name: "success first try", results: []*simplemedia.RunResult{ok}, wantCalls: 1, wantOK: true},
		{name: "retryable then success", results: []*simplemedia.RunResult{failed(simplemedia.KindUploadFailed), ok}, wantCalls: 2, wantOK: true},
		{name: "busy exhausts attempts", results: []*simplemedia.RunResult{failed(simplemedia.KindBusy)}, wantCalls: 3},
		{name: "terminal kind not retried", results: []*simplemedia.RunResult{failed(simplemedia.KindSourceNotFound)}, wantCalls: 1},
		{name: "encode failure not retried", results: []*simplemedia.RunResult{failed(simplemedia.KindEncodeFailed), ok}, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProcessor{results: tt.results}
			r := NewRunner(p, WithRetries(3, time.Millisecond), WithRunTimeout(time.Minute), WithRunnerLogger(quietLogger()))

			result := r.Run(context.Background(), testJob)
			assert.Equal(t, tt.wantOK, result.Success)
			assert.Equal(t, tt.wantCalls, p.calls)
			assert.True(t, p.hadDead.Load(), "attempts run under a deadline")
		})
	}
}

func TestRunner_StopsRetryingWhenCanceled(t *testing.T) {
	p := &scriptedProcessor{results: []*simplemedia.RunResult{failed(simplemedia.KindUnavailable)}}
	r := NewRunner(p, WithRetries(5, time.Hour), WithRunnerLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result := r.Run(ctx, testJob)
	assert.False(t, result.Success)
	assert.Equal(t, 1, p.calls)
}

func TestLocalDispatcher(t *testing.T) {
	p := &scriptedProcessor{results: []*simplemedia.RunResult{{Success: true}}, delay: 10 * time.Millisecond}
	var done atomic.Int32
	d := NewLocalDispatcher(
		NewRunner(p, WithRunnerLogger(quietLogger())),
		2,
		WithResultHook(func(simplemedia.Job, *simplemedia.RunResult) { done.Add(1) }),
		WithLocalLogger(quietLogger()),
	)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(context.Background(), testJob))
	}
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(5), done.Load())
	assert.Equal(t, 5, p.calls)
}

func TestLocalDispatcher_DispatchBoundedByContext(t *testing.T) {
	block := make(chan struct{})
	p := &blockingProcessor{release: block}
	d := NewLocalDispatcher(NewRunner(p, WithRunnerLogger(quietLogger())), 1, WithLocalLogger(quietLogger()))

	require.NoError(t, d.Dispatch(context.Background(), testJob))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Dispatch(ctx, testJob), context.DeadlineExceeded)

	close(block)
	require.NoError(t, d.Wait(context.Background()))
}

type blockingProcessor struct{ release chan struct{} }

func (p *blockingProcessor) ProcessUpload(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult {
	<-p.release
	return &simplemedia.RunResult{Success: true}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Dispatch(context.Background(), testJob))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "u1/submission_image/s1", string(w.msgs[0].Key))
	job, err := Decode(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, testJob, job)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.Dispatch(context.Background(), testJob), "broker down")
}

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErrs int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("transient")
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestKafkaConsumer(t *testing.T) {
	good, err := Encode(testJob)
	require.NoError(t, err)

	reader := &fakeReader{
		fetchErrs: 1,
		queue: []kafka.Message{
			{Offset: 1, Value: good},
			{Offset: 2, Value: []byte("garbage")},
			{Offset: 3, Value: good},
		},
	}
	p := &scriptedProcessor{results: []*simplemedia.RunResult{{Success: true}, failed(simplemedia.KindSourceNotFound)}}
	c := &KafkaConsumer{
		reader:   reader,
		runner:   NewRunner(p, WithRetries(1, 0), WithRunnerLogger(quietLogger())),
		logger:   quietLogger(),
		errPause: time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	assert.Equal(t, 2, p.calls, "malformed message is not run")
}

func TestKafkaConsumer_ShutdownLeavesMessageUncommitted(t *testing.T) {
	good, err := Encode(testJob)
	require.NoError(t, err)
	reader := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: good}}}

	ctx, cancel := context.WithCancel(context.Background())
	p := &cancelingProcessor{cancel: cancel}
	c := &KafkaConsumer{reader: reader, runner: NewRunner(p, WithRetries(1, 0), WithRunnerLogger(quietLogger())), logger: quietLogger()}

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.commits())
}

// cancelingProcessor simulates a shutdown arriving mid-run.
type cancelingProcessor struct{ cancel context.CancelFunc }

func (p *cancelingProcessor) ProcessUpload(ctx context.Context, job simplemedia.Job) *simplemedia.RunResult {
	p.cancel()
	return failed(simplemedia.KindCanceled)
}
