package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Report kinds.
const (
	ReportEvents     = "events"
	ReportCompliance = "compliance"
)

// ValidReportKind reports whether kind names a known report.
func ValidReportKind(kind string) bool {
	return kind == ReportEvents || kind == ReportCompliance
}

// ExportStatus is the lifecycle of a report export.
type ExportStatus string

const (
	ExportQueued ExportStatus = "queued"
	ExportReady  ExportStatus = "ready"
	ExportFailed ExportStatus = "failed"
)

// Export tracks one requested report.
type Export struct {
	ID          uuid.UUID    `json:"id"`
	Kind        string       `json:"kind"`
	Status      ExportStatus `json:"status"`
	URL         string       `json:"url,omitempty"`
	Error       string       `json:"error,omitempty"`
	RequestedBy uuid.UUID    `json:"requested_by"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ErrExportNotFound is returned for unknown or expired exports.
var ErrExportNotFound = errors.New("export not found")

// ExportStore persists export status records.
type ExportStore interface {
	Save(ctx context.Context, e *Export) error
	Get(ctx context.Context, id uuid.UUID) (*Export, error)
}

const (
	exportKeyPrefix = "seatsync:reports:"
	exportTTL       = 7 * 24 * time.Hour
)

// RedisExportStore keeps export records in Redis hashes.
type RedisExportStore struct {
	client *redis.Client
}

// NewRedisExportStore creates an export store.
func NewRedisExportStore(client *redis.Client) *RedisExportStore {
	return &RedisExportStore{client: client}
}

func (s *RedisExportStore) Save(ctx context.Context, e *Export) error {
	key := exportKeyPrefix + e.ID.String()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]interface{}{
			"kind":         e.Kind,
			"status":       string(e.Status),
			"url":          e.URL,
			"error":        e.Error,
			"requested_by": e.RequestedBy.String(),
			"updated_at":   e.UpdatedAt.UTC().Format(time.RFC3339),
		})
		p.Expire(ctx, key, exportTTL)
		return nil
	})
	return err
}

func (s *RedisExportStore) Get(ctx context.Context, id uuid.UUID) (*Export, error) {
	m, err := s.client.HGetAll(ctx, exportKeyPrefix+id.String()).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrExportNotFound
	}
	e := &Export{
		ID:     id,
		Kind:   m["kind"],
		Status: ExportStatus(m["status"]),
		URL:    m["url"],
		Error:  m["error"],
	}
	e.RequestedBy, _ = uuid.Parse(m["requested_by"])
	e.UpdatedAt, _ = time.Parse(time.RFC3339, m["updated_at"])
	return e, nil
}

// RenderEventsCSV writes the utilization rollup as CSV.
func RenderEventsCSV(rows []EventAnalytics) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"event_id", "title", "type", "date", "total_seats", "enrolled", "waitlisted", "utilization_percent", "demand", "mandatory"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.EventID.String(),
			r.Title,
			string(r.Kind),
			r.Date,
			strconv.Itoa(r.TotalSeats),
			strconv.Itoa(r.EnrolledCount),
			strconv.Itoa(r.WaitlistCount),
			strconv.Itoa(r.UtilizationPercent),
			string(r.DemandLevel),
			strconv.FormatBool(r.IsMandatory),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderComplianceCSV writes the compliance rollup as CSV.
func RenderComplianceCSV(rows []ComplianceStatus) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"user_id", "full_name", "reg_no", "department", "total", "completed", "pending", "compliance_percent", "compliant", "pending_events"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.UserID.String(),
			r.FullName,
			r.RegNo,
			r.Department,
			strconv.Itoa(r.TotalMandatory),
			strconv.Itoa(r.CompletedMandatory),
			strconv.Itoa(r.PendingMandatory),
			strconv.Itoa(r.CompliancePercent),
			strconv.FormatBool(r.IsCompliant),
			strings.Join(r.PendingEvents, "; "),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Render computes and renders the named report.
func (s *Service) Render(ctx context.Context, kind string) ([]byte, error) {
	switch kind {
	case ReportEvents:
		rows, err := s.computeEvents(ctx)
		if err != nil {
			return nil, err
		}
		return RenderEventsCSV(rows)
	case ReportCompliance:
		rows, err := s.computeCompliance(ctx)
		if err != nil {
			return nil, err
		}
		return RenderComplianceCSV(rows)
	}
	return nil, fmt.Errorf("unknown report kind %q", kind)
}
