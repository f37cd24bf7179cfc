package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of bookable event.
type EventKind string

const (
	EventKindWorkshop EventKind = "Workshop"
	EventKindSeminar  EventKind = "Seminar"
)

// EventStatus is the lifecycle status of an event.
type EventStatus string

const (
	EventStatusUpcoming EventStatus = "Upcoming"
	EventStatusClosed   EventStatus = "Closed"
)

// Full-day defaults used when an event has no start or end time.
const (
	DayStart = "00:00"
	DayEnd   = "23:59"
)

// Departments is the branch catalog events can be targeted at.
var Departments = []string{
	"AIML", "AIDS", "CSE", "CSE(AI)", "CSE(DS)",
	"IT", "ECE", "EEE", "BME", "BI", "CYBER SECURITY",
}

// IsDepartment reports whether code is in the department catalog.
func IsDepartment(code string) bool {
	for _, d := range Departments {
		if d == code {
			return true
		}
	}
	return false
}

// Event is a bookable workshop or seminar with a fixed seat capacity.
type Event struct {
	ID             uuid.UUID   `json:"id"`
	Title          string      `json:"title"`
	Kind           EventKind   `json:"type"`
	Date           string      `json:"date"`                 // YYYY-MM-DD
	StartTime      *string     `json:"start_time,omitempty"` // HH:MM
	EndTime        *string     `json:"end_time,omitempty"`   // HH:MM
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	Status         EventStatus `json:"status"`
	IsMandatory    bool        `json:"is_mandatory"`
	TargetBranches []string    `json:"target_branches"` // empty means all branches
	CreatedBy      *uuid.UUID  `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EligibleFor reports whether a student of the given department may book the event.
func (e *Event) EligibleFor(department string) bool {
	if len(e.TargetBranches) == 0 {
		return true
	}
	for _, b := range e.TargetBranches {
		if b == department {
			return true
		}
	}
	return false
}

// Window returns the event's start and end time of day, substituting the
// full-day bounds for missing values.
func (e *Event) Window() (start, end string) {
	start, end = DayStart, DayEnd
	if e.StartTime != nil && *e.StartTime != "" {
		start = *e.StartTime
	}
	if e.EndTime != nil && *e.EndTime != "" {
		end = *e.EndTime
	}
	return start, end
}

// BookedSeats returns the number of seats consumed by confirmed registrations.
func (e *Event) BookedSeats() int {
	return e.TotalSeats - e.AvailableSeats
}
