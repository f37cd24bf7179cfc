// Package worker runs background jobs: analytics refreshes after booking
// changes and CSV report exports to S3.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seatsync/backend/internal/analytics"
	"github.com/seatsync/backend/pkg/queue"
	"github.com/seatsync/backend/pkg/storage"
)

// Jobs is the queue the processor drains.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	AckAnalyticsRefresh(ctx context.Context) error
}

// Analytics recomputes rollups and renders reports.
type Analytics interface {
	Refresh(ctx context.Context) error
	Render(ctx context.Context, kind string) ([]byte, error)
}

// ReportUploader stores a rendered report and returns a download URL.
type ReportUploader interface {
	UploadReport(ctx context.Context, key string, body []byte) (string, error)
}

var errNoStorage = errors.New("report storage is not configured")

// Processor dispatches queue jobs by type.
type Processor struct {
	jobs      Jobs
	analytics Analytics
	uploader  ReportUploader
	exports   analytics.ExportStore
	backoff   time.Duration
	logger    *zap.Logger
}

// NewProcessor creates a job processor. uploader may be nil, in which case
// exports are marked failed.
func NewProcessor(jobs Jobs, a Analytics, uploader ReportUploader, exports analytics.ExportStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		jobs:      jobs,
		analytics: a,
		uploader:  uploader,
		exports:   exports,
		backoff:   queue.RetryBackoff,
		logger:    logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeAnalyticsRefresh:
		return p.refresh(ctx, job)
	case queue.JobTypeReportExport:
		return p.export(ctx, job)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

func (p *Processor) refresh(ctx context.Context, job *queue.Job) error {
	var payload queue.AnalyticsRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	// Clear the marker first so changes committed during the refresh
	// schedule another one.
	if err := p.jobs.AckAnalyticsRefresh(ctx); err != nil {
		p.logger.Warn("ack analytics refresh", zap.Error(err))
	}
	if err := p.analytics.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh analytics: %w", err)
	}
	p.logger.Info("analytics refreshed", zap.String("event_id", payload.EventID.String()), zap.String("reason", payload.Reason))
	return nil
}

func (p *Processor) export(ctx context.Context, job *queue.Job) error {
	var payload queue.ReportExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	exp := &analytics.Export{
		ID:          payload.ExportID,
		Kind:        payload.Kind,
		RequestedBy: payload.RequestedBy,
	}

	url, err := p.renderAndUpload(ctx, payload)
	exp.UpdatedAt = time.Now().UTC()
	if err != nil {
		exp.Status = analytics.ExportFailed
		exp.Error = err.Error()
	} else {
		exp.Status = analytics.ExportReady
		exp.URL = url
	}
	if saveErr := p.exports.Save(ctx, exp); saveErr != nil {
		return fmt.Errorf("save export: %w", saveErr)
	}
	if err != nil {
		return err
	}
	p.logger.Info("report exported", zap.String("export_id", exp.ID.String()), zap.String("kind", exp.Kind))
	return nil
}

func (p *Processor) renderAndUpload(ctx context.Context, payload queue.ReportExportPayload) (string, error) {
	if p.uploader == nil {
		return "", errNoStorage
	}
	body, err := p.analytics.Render(ctx, payload.Kind)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	url, err := p.uploader.UploadReport(ctx, storage.ReportKey(payload.Kind, payload.ExportID.String()), body)
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	return url, nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if errors.Is(err, errNoStorage) {
				continue
			}
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
