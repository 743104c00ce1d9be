package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/core/notifications"
)

const maxAttempts = 5

// ProcessingLease is how long a handed-out job stays PROCESSING before
// Next may hand it out again. It covers a worker that died mid-delivery.
const ProcessingLease = 2 * time.Minute

// Job is a queued webhook delivery.
type Job struct {
	ID       string
	URL      string
	Payload  []byte
	Attempts int
}

// Queue hands out due jobs one at a time. Next returns nil when nothing is
// due. A job left PROCESSING past ProcessingLease is due again.
type Queue interface {
	Next(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, nextRun time.Time) error
	Fail(ctx context.Context, id string) error
}

type Sender func(ctx context.Context, url string, body []byte, secret string) error

type WebhookWorker struct {
	queue    Queue
	secret   string
	interval time.Duration
	send     Sender
	now      func() time.Time
}

func NewWebhookWorker(queue Queue, secret string, interval time.Duration) *WebhookWorker {
	if secret == "" {
		slog.Warn("⚠️ WEBHOOK_SECRET is missing in .env, using default insecure key")
		secret = "default_insecure_key"
	}
	return &WebhookWorker{
		queue:    queue,
		secret:   secret,
		interval: interval,
		send:     notifications.SendWebhook,
		now:      time.Now,
	}
}

// Start polls the queue until ctx is cancelled.
func (w *WebhookWorker) Start(ctx context.Context) {
	go func() {
		slog.Info("👷 Webhook Worker started")
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			for w.ProcessNext(ctx) {
			}
			select {
			case <-ctx.Done():
				slog.Info("Webhook Worker stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// ProcessNext delivers one due job and reports whether there was one.
func (w *WebhookWorker) ProcessNext(ctx context.Context) bool {
	job, err := w.queue.Next(ctx)
	if err != nil {
		slog.Error("Worker: Failed to fetch job", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	slog.Info("Worker: Processing job", "url", job.URL, "job_id", job.ID)

	if sendErr := w.send(ctx, job.URL, job.Payload, w.secret); sendErr != nil {
		slog.Error("Worker: Webhook failed", "error", sendErr, "attempts", job.Attempts)
		if job.Attempts+1 >= maxAttempts {
			if err := w.queue.Fail(ctx, job.ID); err != nil {
				slog.Error("Worker: Failed to mark job failed", "error", err, "job_id", job.ID)
			}
			slog.Error("Worker: Job marked as FAILED (Max attempts reached)", "job_id", job.ID)
			return true
		}
		nextRun := w.now().Add(time.Duration(job.Attempts*10+10) * time.Second)
		if err := w.queue.Retry(ctx, job.ID, nextRun); err != nil {
			slog.Error("Worker: Failed to schedule retry", "error", err, "job_id", job.ID)
		}
		slog.Info("Worker: Scheduled retry", "next_run", nextRun)
		return true
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		slog.Error("Worker: Failed to mark job completed", "error", err, "job_id", job.ID)
	}
	slog.Info("✅ Worker: Webhook Sent Successfully!", "job_id", job.ID)
	return true
}
