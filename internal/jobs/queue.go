package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BenRachmiel/e4e/internal/webhook"
)

// Builder executes one build job. It returns nil when the job built
// successfully and a classification error otherwise; it never decides
// the job's terminal state itself.
type Builder interface {
	Build(ctx context.Context, job *Job) error
}

// ErrQueueFull is returned by Submit when the pending lane is saturated.
var ErrQueueFull = errors.New("e4e: build queue is full")

// Queue is the single-lane build queue. Jobs execute strictly in
// submission order; exactly one worker loop (Run) may be active because
// builds mutate the shared host environment and cannot overlap.
// Submission and lookups never block on the in-flight build.
type Queue struct {
	pending  chan *Job
	builder  Builder
	sender   webhook.Sender
	streamer *LogStreamer

	mu       sync.RWMutex
	registry map[string]*Job
	current  *Job
}

// NewQueue creates a queue with the given pending capacity. sender and
// streamer are optional.
func NewQueue(size int, builder Builder, sender webhook.Sender, streamer *LogStreamer) *Queue {
	if size <= 0 {
		size = 128
	}
	if builder == nil {
		panic("jobs: NewQueue requires a builder")
	}
	return &Queue{
		pending:  make(chan *Job, size),
		builder:  builder,
		sender:   sender,
		streamer: streamer,
		registry: make(map[string]*Job),
	}
}

// Submit registers the job and appends it to the pending lane. It
// returns ErrQueueFull instead of blocking when the lane is saturated.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	q.registry[job.id] = job
	q.mu.Unlock()

	if q.streamer != nil {
		job.log.Attach(func(chunk []byte) {
			q.streamer.Broadcast(job.id, chunk)
		})
	}

	select {
	case q.pending <- job:
	default:
		q.mu.Lock()
		delete(q.registry, job.id)
		q.mu.Unlock()
		return ErrQueueFull
	}

	BuildsQueuedTotal.Inc()
	QueueDepth.Set(float64(len(q.pending)))
	slog.Info("build queued", "build_id", job.id, "packages", job.packages, "config_hash", job.configHash)
	q.notify(job)
	return nil
}

// Get returns the job registered under id.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.registry[id]
	return job, ok
}

// Current returns the job being executed, or nil when the worker is
// idle.
func (q *Queue) Current() *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// Depth returns the number of jobs waiting to execute.
func (q *Queue) Depth() int {
	return len(q.pending)
}

// Jobs returns all known jobs in submission order.
func (q *Queue) Jobs() []*Job {
	q.mu.RLock()
	all := make([]*Job, 0, len(q.registry))
	for _, job := range q.registry {
		all = append(all, job)
	}
	q.mu.RUnlock()
	sort.Slice(all, func(i, k int) bool {
		return all[i].createdAt.Before(all[k].createdAt)
	})
	return all
}

// Run drains the queue until ctx is canceled, driving each job to a
// terminal state before dequeuing the next. A job failure is recorded
// on the job and never stops the loop.
func (q *Queue) Run(ctx context.Context) {
	slog.Info("build worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("build worker stopped")
			return
		case job := <-q.pending:
			q.mu.Lock()
			q.current = job
			q.mu.Unlock()
			QueueDepth.Set(float64(len(q.pending)))
			job.setBuilding(time.Now().UTC())
			q.notify(job)

			err := q.builder.Build(ctx, job)
			q.finalize(job, err)
		}
	}
}

// finalize is unconditional: whatever Build did, the job gets a
// completion timestamp and a terminal state, the current-job pointer is
// cleared, and live log subscribers are released.
func (q *Queue) finalize(job *Job, buildErr error) {
	if buildErr != nil {
		// The failure must be visible in the job's own log, not just
		// in the error field and the server log.
		job.log.Printf("\n\nFATAL ERROR: %v\n", buildErr)
	}
	job.finalize(buildErr, time.Now().UTC())

	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()

	v := job.Snapshot()
	if v.StartedAt != nil && v.CompletedAt != nil {
		BuildDuration.Observe(v.CompletedAt.Sub(*v.StartedAt).Seconds())
	}
	if v.Status == StatusFailed {
		BuildsFailedTotal.Inc()
		slog.Error("build failed", "build_id", v.ID, "error", v.Error)
	} else {
		BuildsCompletedTotal.Inc()
		slog.Info("build complete", "build_id", v.ID, "packages_built", len(v.PackagesBuilt))
	}

	if q.streamer != nil {
		q.streamer.Close(job.id)
	}
	q.notify(job)
}

// notify posts the job's current state to its webhook, if any. Delivery
// runs in the background so retries never delay the worker.
func (q *Queue) notify(job *Job) {
	if q.sender == nil || job.webhookURL == "" {
		return
	}
	v := job.Snapshot()
	go func() {
		err := q.sender.Notify(context.Background(), job.webhookURL, webhook.Event{
			BuildID:   v.ID,
			Status:    string(v.Status),
			Error:     v.Error,
			Timestamp: time.Now().UTC(),
			Build:     v,
		})
		if err != nil {
			slog.Warn("webhook delivery failed", "build_id", v.ID, "url", job.webhookURL, "error", err)
		}
	}()
}
