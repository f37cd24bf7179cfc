package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueAnalytics is the Redis list key for analytics refresh jobs.
	QueueAnalytics = "seatsync:jobs:analytics"
	// QueueReports is the Redis list key for report export jobs.
	QueueReports = "seatsync:jobs:reports"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "seatsync:jobs:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second

	// pendingRefreshKey collapses bursts of refresh requests into one job.
	pendingRefreshKey = "seatsync:jobs:analytics:pending"
	pendingRefreshTTL = time.Minute
	// popTimeout bounds BLPOP so a cancelled ctx is noticed.
	popTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAnalyticsRefresh JobType = "analytics_refresh"
	JobTypeReportExport     JobType = "report_export"
)

// AnalyticsRefreshPayload names the event whose booking changed.
type AnalyticsRefreshPayload struct {
	EventID uuid.UUID `json:"event_id"`
	Reason  string    `json:"reason"`
}

// ReportExportPayload asks the worker to render and upload a report.
type ReportExportPayload struct {
	ExportID    uuid.UUID `json:"export_id"`
	Kind        string    `json:"kind"`
	RequestedBy uuid.UUID `json:"requested_by"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) push(ctx context.Context, key string, typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Queue:     key,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// EnqueueAnalyticsRefresh enqueues a refresh unless one is already pending.
// It reports whether a job was pushed.
func (q *Queue) EnqueueAnalyticsRefresh(ctx context.Context, payload AnalyticsRefreshPayload) (bool, error) {
	fresh, err := q.client.SetNX(ctx, pendingRefreshKey, payload.EventID.String(), pendingRefreshTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !fresh {
		return false, nil
	}
	job, err := q.push(ctx, QueueAnalytics, JobTypeAnalyticsRefresh, payload)
	if err != nil {
		_ = q.client.Del(ctx, pendingRefreshKey).Err()
		return false, err
	}
	q.logger.Debug("enqueued analytics refresh", zap.String("job_id", job.ID), zap.String("event_id", payload.EventID.String()))
	return true, nil
}

// AckAnalyticsRefresh clears the pending marker so the next change enqueues
// a new refresh. Call it before processing the refresh.
func (q *Queue) AckAnalyticsRefresh(ctx context.Context) error {
	return q.client.Del(ctx, pendingRefreshKey).Err()
}

// EnqueueReportExport enqueues a report export job.
func (q *Queue) EnqueueReportExport(ctx context.Context, payload ReportExportPayload) error {
	job, err := q.push(ctx, QueueReports, JobTypeReportExport, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued report export", zap.String("job_id", job.ID), zap.String("export_id", payload.ExportID.String()), zap.String("kind", payload.Kind))
	return nil
}

// Dequeue waits for a job on any work queue. It returns a nil job when the
// wait times out or the payload is malformed.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, popTimeout, QueueAnalytics, QueueReports).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	if job.Queue == "" {
		job.Queue = result[0]
	}
	return &job, nil
}

// Retry re-enqueues a job on its own queue with an incremented attempt, or
// moves it to the DLQ after MaxRetries.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	key := job.Queue
	if key == "" {
		key = QueueAnalytics
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
