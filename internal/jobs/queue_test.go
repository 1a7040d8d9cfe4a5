package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenRachmiel/e4e/internal/webhook"
)

// gateBuilder blocks each build until released so tests can observe
// in-between states.
type gateBuilder struct {
	started chan *Job
	release chan struct{}
	errs    map[string]error
}

func newGateBuilder() *gateBuilder {
	return &gateBuilder{
		started: make(chan *Job),
		release: make(chan struct{}),
		errs:    make(map[string]error),
	}
}

func (b *gateBuilder) Build(ctx context.Context, job *Job) error {
	b.started <- job
	<-b.release
	return b.errs[job.ID()]
}

func waitStarted(t *testing.T, b *gateBuilder) *Job {
	t.Helper()
	select {
	case job := <-b.started:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("no build started in time")
		return nil
	}
}

func TestQueueExecutesInSubmissionOrder(t *testing.T) {
	builder := newGateBuilder()
	q := NewQueue(16, builder, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	a := NewJob([]string{"app-misc/a"}, "h1", "/tmp/h1", "")
	b := NewJob([]string{"app-misc/b"}, "h1", "/tmp/h1", "")
	c := NewJob([]string{"app-misc/c"}, "h1", "/tmp/h1", "")
	require.NoError(t, q.Submit(a))
	require.NoError(t, q.Submit(b))
	require.NoError(t, q.Submit(c))

	first := waitStarted(t, builder)
	assert.Equal(t, a.ID(), first.ID())
	assert.Equal(t, a.ID(), q.Current().ID())

	// B must not start, or even leave Queued, while A is running.
	assert.Equal(t, StatusQueued, b.Snapshot().Status)
	assert.Equal(t, StatusBuilding, a.Snapshot().Status)

	builder.release <- struct{}{}
	second := waitStarted(t, builder)
	assert.Equal(t, b.ID(), second.ID())
	assert.True(t, a.Snapshot().Status.Terminal(), "A must be terminal before B starts")

	builder.release <- struct{}{}
	third := waitStarted(t, builder)
	assert.Equal(t, c.ID(), third.ID())
	builder.release <- struct{}{}
}

func TestQueueFailureIsContained(t *testing.T) {
	builder := newGateBuilder()
	q := NewQueue(16, builder, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	bad := NewJob([]string{"app-misc/bad"}, "h1", "/tmp/h1", "")
	good := NewJob([]string{"app-misc/good"}, "h1", "/tmp/h1", "")
	builder.errs[bad.ID()] = errors.New("emerge failed with exit code 1")

	require.NoError(t, q.Submit(bad))
	require.NoError(t, q.Submit(good))

	waitStarted(t, builder)
	builder.release <- struct{}{}

	// The worker must survive the failure and pick up the next job.
	waitStarted(t, builder)
	builder.release <- struct{}{}

	require.Eventually(t, func() bool {
		return good.Snapshot().Status == StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	v := bad.Snapshot()
	assert.Equal(t, StatusFailed, v.Status)
	assert.Contains(t, v.Error, "exit code 1")
	require.NotNil(t, v.CompletedAt)
	assert.Empty(t, v.PackagesBuilt)
	assert.Nil(t, q.Current())

	// The failure must end up in the job's own log too, where clients
	// tailing it will see it.
	log := bad.Log().String()
	assert.Contains(t, log, "FATAL ERROR")
	assert.Contains(t, log, "exit code 1")
}

// recordingSender captures every webhook event the queue emits.
type recordingSender struct {
	mu       sync.Mutex
	statuses []Status
}

func (s *recordingSender) Notify(ctx context.Context, url string, event webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, Status(event.Status))
	return nil
}

func (s *recordingSender) seen() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

func TestQueueNotifiesTransitions(t *testing.T) {
	builder := newGateBuilder()
	sender := &recordingSender{}
	q := NewQueue(16, builder, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	job := NewJob([]string{"app-misc/a"}, "h1", "/tmp/h1", "http://hooks.example/build")
	require.NoError(t, q.Submit(job))
	waitStarted(t, builder)
	builder.release <- struct{}{}

	// Notifications are fired asynchronously, so assert membership
	// rather than order.
	require.Eventually(t, func() bool {
		return len(sender.seen()) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	seen := sender.seen()
	assert.Contains(t, seen, StatusQueued)
	assert.Contains(t, seen, StatusBuilding)
	assert.Contains(t, seen, StatusComplete)
}

func TestQueueLookup(t *testing.T) {
	builder := newGateBuilder()
	q := NewQueue(16, builder, nil, nil)

	job := NewJob([]string{"app-misc/a"}, "h1", "/tmp/h1", "")
	require.NoError(t, q.Submit(job))

	got, ok := q.Get(job.ID())
	require.True(t, ok)
	assert.Equal(t, job.ID(), got.ID())

	_, ok = q.Get("no-such-id")
	assert.False(t, ok)

	all := q.Jobs()
	require.Len(t, all, 1)
	assert.Equal(t, job.ID(), all[0].ID())
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	builder := newGateBuilder()
	q := NewQueue(1, builder, nil, nil) // no worker running

	first := NewJob([]string{"app-misc/a"}, "h1", "/tmp/h1", "")
	second := NewJob([]string{"app-misc/b"}, "h1", "/tmp/h1", "")
	require.NoError(t, q.Submit(first))

	err := q.Submit(second)
	require.ErrorIs(t, err, ErrQueueFull)

	// The rejected job must not linger in the registry.
	_, ok := q.Get(second.ID())
	assert.False(t, ok)
}

func TestTerminalStateIsImmutable(t *testing.T) {
	job := NewJob([]string{"app-misc/a"}, "h1", "/tmp/h1", "")
	job.setBuilding(time.Now().UTC())
	job.finalize(nil, time.Now().UTC())

	v := job.Snapshot()
	require.Equal(t, StatusComplete, v.Status)
	require.NotNil(t, v.CompletedAt)

	// A later failure must not overwrite the terminal state or the
	// completion timestamp.
	job.finalize(errors.New("late failure"), time.Now().UTC().Add(time.Hour))
	job.setBuilding(time.Now().UTC())

	after := job.Snapshot()
	assert.Equal(t, StatusComplete, after.Status)
	assert.Empty(t, after.Error)
	assert.Equal(t, *v.CompletedAt, *after.CompletedAt)
}
