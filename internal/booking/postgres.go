package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatsync/backend/internal/events"
	"github.com/seatsync/backend/internal/models"
)

// SQLSTATE codes reported as ErrWriteConflict.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a Store backed by PostgreSQL. Atomic sections run as
// SERIALIZABLE transactions that lock the event row first.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL booking store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx, lock: true}}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

const (
	registrationColumns = `id, user_id, event_id, status, promoted_from_waitlist, created_at`
	waitlistColumns     = `id, user_id, event_id, position, created_at`
)

func (s *PostgresStore) EventRegistrations(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	return s.registrations(ctx, `WHERE event_id = $1`, eventID)
}

func (s *PostgresStore) UserRegistrations(ctx context.Context, userID uuid.UUID) ([]models.Registration, error) {
	return s.registrations(ctx, `WHERE user_id = $1`, userID)
}

func (s *PostgresStore) AllRegistrations(ctx context.Context) ([]models.Registration, error) {
	return s.registrations(ctx, ``)
}

func (s *PostgresStore) EventWaitlist(ctx context.Context, eventID uuid.UUID) ([]models.WaitlistEntry, error) {
	return s.waitlist(ctx, `WHERE event_id = $1 ORDER BY position`, eventID)
}

func (s *PostgresStore) UserWaitlist(ctx context.Context, userID uuid.UUID) ([]models.WaitlistEntry, error) {
	return s.waitlist(ctx, `WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *PostgresStore) AllWaitlistEntries(ctx context.Context) ([]models.WaitlistEntry, error) {
	return s.waitlist(ctx, `ORDER BY event_id, position`)
}

func (s *PostgresStore) registrations(ctx context.Context, where string, args ...any) ([]models.Registration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+registrationColumns+` FROM registrations `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Registration{}
	for rows.Next() {
		var r models.Registration
		if err := rows.Scan(&r.ID, &r.UserID, &r.EventID, &r.Status, &r.PromotedFromWaitlist, &r.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *PostgresStore) waitlist(ctx context.Context, tail string, args ...any) ([]models.WaitlistEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.WaitlistEntry{}
	for rows.Next() {
		var w models.WaitlistEntry
		if err := rows.Scan(&w.ID, &w.UserID, &w.EventID, &w.Position, &w.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

// pgReader implements Reader. With lock set, event and waitlist head reads
// take row locks held until the transaction ends.
type pgReader struct {
	q    querier
	lock bool
}

func (r pgReader) forUpdate() string {
	if r.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (r pgReader) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	ev, err := events.Scan(r.q.QueryRow(ctx, `SELECT `+events.Columns("")+` FROM events WHERE id = $1`+r.forUpdate(), eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (r pgReader) FindRegistration(ctx context.Context, userID, eventID uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	err := r.q.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE user_id = $1 AND event_id = $2`, userID, eventID).
		Scan(&reg.ID, &reg.UserID, &reg.EventID, &reg.Status, &reg.PromotedFromWaitlist, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r pgReader) FindWaitlistEntry(ctx context.Context, userID, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	var w models.WaitlistEntry
	err := r.q.QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE user_id = $1 AND event_id = $2`, userID, eventID).
		Scan(&w.ID, &w.UserID, &w.EventID, &w.Position, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r pgReader) RegisteredEvents(ctx context.Context, userID uuid.UUID) ([]models.Event, error) {
	q := `SELECT ` + events.Columns("e.") + `
		FROM registrations r JOIN events e ON e.id = r.event_id
		WHERE r.user_id = $1
		ORDER BY r.created_at, r.id`
	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		ev, err := events.Scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *ev)
	}
	return list, rows.Err()
}

// pgTx implements Tx inside a serializable transaction.
type pgTx struct {
	pgReader
}

func (t *pgTx) SetAvailableSeats(ctx context.Context, eventID uuid.UUID, seats int) error {
	tag, err := t.q.Exec(ctx, `UPDATE events SET available_seats = $2, updated_at = NOW() WHERE id = $1`, eventID, seats)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertRegistration(ctx context.Context, reg *models.Registration) error {
	const q = `INSERT INTO registrations (id, user_id, event_id, status, promoted_from_waitlist, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.q.Exec(ctx, q, reg.ID, reg.UserID, reg.EventID, reg.Status, reg.PromotedFromWaitlist, reg.CreatedAt)
	return err
}

func (t *pgTx) DeleteRegistration(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	return err
}

func (t *pgTx) InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	const q = `INSERT INTO waitlist_entries (id, user_id, event_id, position, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := t.q.Exec(ctx, q, entry.ID, entry.UserID, entry.EventID, entry.Position, entry.CreatedAt)
	return err
}

func (t *pgTx) DeleteWaitlistEntry(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	return err
}

func (t *pgTx) MaxWaitlistPosition(ctx context.Context, eventID uuid.UUID) (int, error) {
	var last int
	err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE event_id = $1`, eventID).Scan(&last)
	return last, err
}

func (t *pgTx) WaitlistHead(ctx context.Context, eventID uuid.UUID) (*models.WaitlistEntry, error) {
	var w models.WaitlistEntry
	err := t.q.QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = $1 ORDER BY position LIMIT 1`+t.forUpdate(), eventID).
		Scan(&w.ID, &w.UserID, &w.EventID, &w.Position, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// classify maps retryable SQLSTATEs to ErrWriteConflict and seat CHECK
// violations to ErrInvariantViolation.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return fmt.Errorf("%w: %s (%s)", ErrWriteConflict, pgErr.Message, pgErr.Code)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", ErrInvariantViolation, pgErr.ConstraintName)
	}
	return err
}
