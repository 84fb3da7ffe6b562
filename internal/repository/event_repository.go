package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rmartins/event-access-control/internal/model"
)

// EventRepo provides CRUD operations for events and the atomic
// capacity reserve/release used by the registration path.  The
// `current_count` column is only ever mutated through the
// single-statement conditional updates below, so two concurrent
// registrations can never both take the last slot.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// spanning multiple repositories.
func (r *EventRepo) DB() *sql.DB { return r.db }

const eventColumns = `id, code, slug, name, status, max_capacity, current_count,
               starts_at, ends_at, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var ev model.Event
	var startsAt, endsAt sql.NullTime
	err := row.Scan(&ev.ID, &ev.Code, &ev.Slug, &ev.Name, &ev.Status,
		&ev.MaxCapacity, &ev.CurrentCount, &startsAt, &endsAt,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if startsAt.Valid {
		t := startsAt.Time
		ev.StartsAt = &t
	}
	if endsAt.Valid {
		t := endsAt.Time
		ev.EndsAt = &t
	}
	return &ev, nil
}

// Create inserts a new event.  Code and slug are normalized before
// insertion; violating either unique constraint yields ErrDuplicate.
func (r *EventRepo) Create(ctx context.Context, ev *model.Event) error {
	ev.Code = strings.ToUpper(strings.TrimSpace(ev.Code))
	ev.Slug = strings.ToLower(strings.TrimSpace(ev.Slug))
	const q = `INSERT INTO events (code, slug, name, status, max_capacity, starts_at, ends_at)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ev.Code, ev.Slug, ev.Name, ev.Status,
		ev.MaxCapacity, ev.StartsAt, ev.EndsAt)
	if err != nil {
		return classifyMySQL(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// GetByID fetches an event by primary key.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

// GetByRef fetches an event by id, slug or code, whichever matches
// first.  Gate terminals hold the numeric id while public pages use
// the slug; QR payloads embed the code.
func (r *EventRepo) GetByRef(ctx context.Context, ref string) (*model.Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
         WHERE id = ? OR slug = ? OR code = ? LIMIT 1`,
		ref, strings.ToLower(ref), strings.ToUpper(ref)))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

// GetBySlug fetches an event by its slug.
func (r *EventRepo) GetBySlug(ctx context.Context, slug string) (*model.Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE slug = ?`,
		strings.ToLower(strings.TrimSpace(slug))))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return ev, err
}

// List returns all events ordered by start date descending.
func (r *EventRepo) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// Update modifies event fields.  The capacity limit may only be
// lowered to a value that still covers the current participant count;
// the guard lives in the same UPDATE statement so a concurrent
// registration cannot slip below a shrinking limit.
func (r *EventRepo) Update(ctx context.Context, id uint64, name, status string, maxCapacity uint32) error {
	const q = `UPDATE events
               SET name = ?, status = ?, max_capacity = ?
               WHERE id = ? AND (? = 0 OR current_count <= ?)`
	res, err := r.db.ExecContext(ctx, q, name, status, maxCapacity, id, maxCapacity, maxCapacity)
	if err != nil {
		return classifyMySQL(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the event does not exist or the new capacity is
		// below the current count; disambiguate for the caller.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// ReserveTx atomically takes one registration slot on the event
// inside the caller's transaction.  It succeeds only when a free slot
// exists at the moment of the update; otherwise no state changes and
// ErrCapacityExceeded is returned.  Events with max_capacity = 0 are
// unlimited.
func (r *EventRepo) ReserveTx(ctx context.Context, tx *sql.Tx, eventID uint64) error {
	const q = `UPDATE events
               SET current_count = current_count + 1
               WHERE id = ? AND (max_capacity = 0 OR current_count < max_capacity)`
	res, err := tx.ExecContext(ctx, q, eventID)
	if err != nil {
		return classifyMySQL(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE id = ?)`, eventID).Scan(&exists); err != nil {
			return classifyMySQL(err)
		}
		if !exists {
			return ErrEventNotFound
		}
		return ErrCapacityExceeded
	}
	return nil
}

// ReleaseTx atomically returns one registration slot.  The counter
// never goes below zero.
func (r *EventRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, eventID uint64) error {
	const q = `UPDATE events
               SET current_count = current_count - 1
               WHERE id = ? AND current_count > 0`
	_, err := tx.ExecContext(ctx, q, eventID)
	return classifyMySQL(err)
}
