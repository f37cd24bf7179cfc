package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatsync/backend/internal/models"
)

// ErrNotFound is returned when no event has the requested id.
var ErrNotFound = errors.New("event not found")

// Columns returns the event select list, each column qualified by prefix
// (e.g. "e."). The date is rendered as YYYY-MM-DD.
func Columns(prefix string) string {
	cols := []string{
		"id", "title", "kind", "to_char(%sevent_date, 'YYYY-MM-DD')", "start_time", "end_time",
		"total_seats", "available_seats", "status", "is_mandatory", "target_branches",
		"created_by", "created_at", "updated_at",
	}
	for i, c := range cols {
		if strings.Contains(c, "%s") {
			cols[i] = fmt.Sprintf(c, prefix)
			continue
		}
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// Scan reads one row selected with Columns.
func Scan(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Title, &e.Kind, &e.Date, &e.StartTime, &e.EndTime,
		&e.TotalSeats, &e.AvailableSeats, &e.Status, &e.IsMandatory, &e.TargetBranches,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.TargetBranches == nil {
		e.TargetBranches = []string{}
	}
	return &e, nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status     models.EventStatus
	Department string // only events open to this branch
}

// Update carries the editable metadata of an event. Seat counts are not
// editable after creation.
type Update struct {
	Title          *string
	Kind           *models.EventKind
	Date           *string
	StartTime      *string
	EndTime        *string
	IsMandatory    *bool
	TargetBranches []string
}

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new event with all seats available and status Upcoming.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (id, title, kind, event_date, start_time, end_time, total_seats, available_seats, status, is_mandatory, target_branches, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3::date, $4, $5, $6, $6, 'Upcoming', $7, $8, $9)
		RETURNING id, available_seats, status, created_at, updated_at`
	if e.TargetBranches == nil {
		e.TargetBranches = []string{}
	}
	return r.pool.QueryRow(ctx, q, e.Title, e.Kind, e.Date, e.StartTime, e.EndTime, e.TotalSeats, e.IsMandatory, e.TargetBranches, e.CreatedBy).
		Scan(&e.ID, &e.AvailableSeats, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	e, err := Scan(r.pool.QueryRow(ctx, `SELECT `+Columns("")+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// List returns events ordered by date and start time.
func (r *Repository) List(ctx context.Context, f Filter) ([]models.Event, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		conds = append(conds, fmt.Sprintf("(cardinality(target_branches) = 0 OR $%d = ANY(target_branches))", len(args)))
	}
	q := `SELECT ` + Columns("") + ` FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := r.pool.Query(ctx, q+" ORDER BY event_date, start_time NULLS FIRST, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Event{}
	for rows.Next() {
		e, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Update applies the non-nil fields of u and returns the stored event. An
// empty StartTime or EndTime clears that bound.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u Update) (*models.Event, error) {
	const q = `UPDATE events SET
		title = COALESCE($2, title),
		kind = COALESCE($3, kind),
		event_date = COALESCE($4::date, event_date),
		start_time = CASE WHEN $5::text IS NULL THEN start_time ELSE NULLIF($5::text, '') END,
		end_time = CASE WHEN $6::text IS NULL THEN end_time ELSE NULLIF($6::text, '') END,
		is_mandatory = COALESCE($7, is_mandatory),
		target_branches = COALESCE($8, target_branches),
		updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, u.Title, u.Kind, u.Date, u.StartTime, u.EndTime, u.IsMandatory, u.TargetBranches)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus opens or closes an event.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	const q = `UPDATE events SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
