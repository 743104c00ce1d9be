package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/gowallet/internal/core/worker"
)

const (
	JobPending    = "PENDING"
	JobProcessing = "PROCESSING"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
)

type job struct {
	worker.Job
	status      string
	nextRunAt   time.Time
	lockedUntil time.Time
	createdAt   time.Time
}

func (j *job) due(now time.Time) bool {
	switch j.status {
	case JobPending:
		return !j.nextRunAt.After(now)
	case JobProcessing:
		return !j.lockedUntil.After(now)
	}
	return false
}

// JobQueue is an in-process webhook job queue.
type JobQueue struct {
	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

func NewJobQueue() *JobQueue {
	return &JobQueue{jobs: map[string]*job{}, now: time.Now}
}

func (q *JobQueue) Enqueue(ctx context.Context, url string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	id := uuid.NewString()
	q.jobs[id] = &job{
		Job:       worker.Job{ID: id, URL: url, Payload: payload},
		status:    JobPending,
		nextRunAt: now,
		createdAt: now,
	}
	return nil
}

func (q *JobQueue) Next(ctx context.Context) (*worker.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*job
	for _, j := range q.jobs {
		if j.due(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool { return due[a].createdAt.Before(due[b].createdAt) })
	due[0].status = JobProcessing
	due[0].lockedUntil = now.Add(worker.ProcessingLease)
	out := due[0].Job
	return &out, nil
}

func (q *JobQueue) Complete(ctx context.Context, id string) error {
	return q.set(id, func(j *job) { j.status = JobCompleted })
}

func (q *JobQueue) Retry(ctx context.Context, id string, nextRun time.Time) error {
	return q.set(id, func(j *job) {
		j.status = JobPending
		j.Attempts++
		j.nextRunAt = nextRun
	})
}

func (q *JobQueue) Fail(ctx context.Context, id string) error {
	return q.set(id, func(j *job) { j.status = JobFailed })
}

func (q *JobQueue) set(id string, apply func(*job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		apply(j)
	}
	return nil
}

// Status reports a job's status and attempts, for tests.
func (q *JobQueue) Status(id string) (string, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		return j.status, j.Attempts
	}
	return "", 0
}

// IDs lists every job ever enqueued.
func (q *JobQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.jobs))
	for id := range q.jobs {
		ids = append(ids, id)
	}
	return ids
}
