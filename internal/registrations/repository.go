package registrations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RosterEntry is a confirmed or waitlisted booking joined with the student.
type RosterEntry struct {
	ID                   uuid.UUID `json:"id"`
	UserID               uuid.UUID `json:"user_id"`
	FullName             string    `json:"full_name"`
	Email                string    `json:"email"`
	RegNo                string    `json:"reg_no"`
	Department           string    `json:"department"`
	Position             int       `json:"position,omitempty"`
	PromotedFromWaitlist bool      `json:"promoted_from_waitlist,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Repository reads rosters for admin views.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a roster repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Roster returns the event's confirmed registrations in ledger order.
func (r *Repository) Roster(ctx context.Context, eventID uuid.UUID) ([]RosterEntry, error) {
	const q = `SELECT r.id, u.id, u.full_name, u.email, COALESCE(u.reg_no, ''), COALESCE(u.department, ''),
		0, r.promoted_from_waitlist, r.created_at
		FROM registrations r JOIN users u ON u.id = r.user_id
		WHERE r.event_id = $1
		ORDER BY r.created_at, r.id`
	return r.list(ctx, q, eventID)
}

// WaitlistRoster returns the event's waitlist in position order.
func (r *Repository) WaitlistRoster(ctx context.Context, eventID uuid.UUID) ([]RosterEntry, error) {
	const q = `SELECT w.id, u.id, u.full_name, u.email, COALESCE(u.reg_no, ''), COALESCE(u.department, ''),
		w.position, false, w.created_at
		FROM waitlist_entries w JOIN users u ON u.id = w.user_id
		WHERE w.event_id = $1
		ORDER BY w.position`
	return r.list(ctx, q, eventID)
}

func (r *Repository) list(ctx context.Context, q string, eventID uuid.UUID) ([]RosterEntry, error) {
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []RosterEntry{}
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.FullName, &e.Email, &e.RegNo, &e.Department,
			&e.Position, &e.PromotedFromWaitlist, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
