package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seatsync/backend/internal/models"
)

// CreateRequest is the body for POST /events.
type CreateRequest struct {
	Title          string   `json:"title" binding:"required"`
	Type           string   `json:"type" binding:"required"`
	Date           string   `json:"date" binding:"required"`
	StartTime      string   `json:"start_time"`
	EndTime        string   `json:"end_time"`
	TotalSeats     int      `json:"total_seats" binding:"required"`
	IsMandatory    bool     `json:"is_mandatory"`
	TargetBranches []string `json:"target_branches"`
}

// UpdateRequest is the body for PATCH /events/:id. Seat counts cannot change.
type UpdateRequest struct {
	Title          *string  `json:"title"`
	Type           *string  `json:"type"`
	Date           *string  `json:"date"`
	StartTime      *string  `json:"start_time"`
	EndTime        *string  `json:"end_time"`
	IsMandatory    *bool    `json:"is_mandatory"`
	TargetBranches []string `json:"target_branches"`
}

// StatusRequest is the body for PATCH /events/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func parseKind(s string) (models.EventKind, error) {
	switch k := models.EventKind(s); k {
	case models.EventKindWorkshop, models.EventKindSeminar:
		return k, nil
	}
	return "", fmt.Errorf("type must be %s or %s", models.EventKindWorkshop, models.EventKindSeminar)
}

// ParseStatus validates an event status.
func ParseStatus(s string) (models.EventStatus, error) {
	switch st := models.EventStatus(s); st {
	case models.EventStatusUpcoming, models.EventStatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("status must be %s or %s", models.EventStatusUpcoming, models.EventStatusClosed)
}

func validDate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %q", s)
	}
	return nil
}

func clock(s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return t, fmt.Errorf("time must be HH:MM: %q", s)
	}
	return t, nil
}

func validWindow(start, end string) error {
	var st, et time.Time
	var err error
	if start != "" {
		if st, err = clock(start); err != nil {
			return err
		}
	}
	if end != "" {
		if et, err = clock(end); err != nil {
			return err
		}
	}
	if start != "" && end != "" && !st.Before(et) {
		return errors.New("start_time must be before end_time")
	}
	return nil
}

// normalizeBranches trims, dedupes and checks codes against the catalog.
func normalizeBranches(in []string) ([]string, error) {
	out := []string{}
	seen := map[string]bool{}
	for _, b := range in {
		b = strings.TrimSpace(b)
		if b == "" || seen[b] {
			continue
		}
		if !models.IsDepartment(b) {
			return nil, fmt.Errorf("unknown department %q", b)
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Event validates the request and returns the event to insert.
func (r *CreateRequest) Event() (*models.Event, error) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	kind, err := parseKind(r.Type)
	if err != nil {
		return nil, err
	}
	if err := validDate(r.Date); err != nil {
		return nil, err
	}
	if err := validWindow(r.StartTime, r.EndTime); err != nil {
		return nil, err
	}
	if r.TotalSeats <= 0 {
		return nil, errors.New("total_seats must be positive")
	}
	branches, err := normalizeBranches(r.TargetBranches)
	if err != nil {
		return nil, err
	}
	return &models.Event{
		Title:          title,
		Kind:           kind,
		Date:           r.Date,
		StartTime:      optional(r.StartTime),
		EndTime:        optional(r.EndTime),
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.TotalSeats,
		Status:         models.EventStatusUpcoming,
		IsMandatory:    r.IsMandatory,
		TargetBranches: branches,
	}, nil
}

// Update validates the request against the current event and returns the
// changes to apply.
func (r *UpdateRequest) Update(current *models.Event) (Update, error) {
	var u Update
	if r.Title != nil {
		t := strings.TrimSpace(*r.Title)
		if t == "" {
			return u, errors.New("title cannot be empty")
		}
		u.Title = &t
	}
	if r.Type != nil {
		k, err := parseKind(*r.Type)
		if err != nil {
			return u, err
		}
		u.Kind = &k
	}
	if r.Date != nil {
		if err := validDate(*r.Date); err != nil {
			return u, err
		}
		u.Date = r.Date
	}
	start, end := "", ""
	if current.StartTime != nil {
		start = *current.StartTime
	}
	if current.EndTime != nil {
		end = *current.EndTime
	}
	if r.StartTime != nil {
		start = strings.TrimSpace(*r.StartTime)
		u.StartTime = &start
	}
	if r.EndTime != nil {
		end = strings.TrimSpace(*r.EndTime)
		u.EndTime = &end
	}
	if err := validWindow(start, end); err != nil {
		return u, err
	}
	u.IsMandatory = r.IsMandatory
	if r.TargetBranches != nil {
		b, err := normalizeBranches(r.TargetBranches)
		if err != nil {
			return u, err
		}
		u.TargetBranches = b
	}
	return u, nil
}
