package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rmartins/event-access-control/internal/model"
)

// StandRepo provides CRUD operations for stands and the atomic slot
// reserve/release used during registration.  Stand codes are unique
// within their event; every lookup is event-scoped.
type StandRepo struct {
	db *sql.DB
}

// NewStandRepo returns a new StandRepo bound to the given database.
func NewStandRepo(db *sql.DB) *StandRepo { return &StandRepo{db: db} }

const standColumns = `id, event_id, code, name, max_registrations, current_count,
               created_at, updated_at`

func scanStand(row interface{ Scan(...any) error }) (*model.Stand, error) {
	var st model.Stand
	err := row.Scan(&st.ID, &st.EventID, &st.Code, &st.Name,
		&st.MaxRegistrations, &st.CurrentCount, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Create inserts a new stand for the event.  A duplicate code within
// the same event yields ErrDuplicate.
func (r *StandRepo) Create(ctx context.Context, st *model.Stand) error {
	st.Code = strings.ToUpper(strings.TrimSpace(st.Code))
	const q = `INSERT INTO stands (event_id, code, name, max_registrations)
               VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, st.EventID, st.Code, st.Name, st.MaxRegistrations)
	if err != nil {
		return classifyMySQL(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = uint64(id)
	return nil
}

// GetByID fetches a stand by primary key, scoped to the event.
func (r *StandRepo) GetByID(ctx context.Context, eventID, id uint64) (*model.Stand, error) {
	st, err := scanStand(r.db.QueryRowContext(ctx,
		`SELECT `+standColumns+` FROM stands WHERE id = ? AND event_id = ?`, id, eventID))
	if err == sql.ErrNoRows {
		return nil, ErrStandNotFound
	}
	return st, err
}

// GetByCode fetches a stand by its code within the event.
func (r *StandRepo) GetByCode(ctx context.Context, eventID uint64, code string) (*model.Stand, error) {
	st, err := scanStand(r.db.QueryRowContext(ctx,
		`SELECT `+standColumns+` FROM stands WHERE event_id = ? AND code = ?`,
		eventID, strings.ToUpper(strings.TrimSpace(code))))
	if err == sql.ErrNoRows {
		return nil, ErrStandNotFound
	}
	return st, err
}

// ListByEvent returns all stands of an event ordered by code.
func (r *StandRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Stand, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+standColumns+` FROM stands WHERE event_id = ? ORDER BY code`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stands := make([]model.Stand, 0)
	for rows.Next() {
		st, err := scanStand(rows)
		if err != nil {
			return nil, err
		}
		stands = append(stands, *st)
	}
	return stands, rows.Err()
}

// Update changes the stand's name and slot limit.  Lowering the limit
// below the current participant count is rejected; the guard is part
// of the UPDATE so it cannot race against concurrent registrations.
func (r *StandRepo) Update(ctx context.Context, eventID, id uint64, name string, maxRegistrations uint32) error {
	const q = `UPDATE stands
               SET name = ?, max_registrations = ?
               WHERE id = ? AND event_id = ? AND current_count <= ?`
	res, err := r.db.ExecContext(ctx, q, name, maxRegistrations, id, eventID, maxRegistrations)
	if err != nil {
		return classifyMySQL(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, eventID, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// Delete removes an empty stand.  A stand that still has active
// participants cannot be deleted.
func (r *StandRepo) Delete(ctx context.Context, eventID, id uint64) error {
	const q = `DELETE FROM stands WHERE id = ? AND event_id = ? AND current_count = 0`
	res, err := r.db.ExecContext(ctx, q, id, eventID)
	if err != nil {
		return classifyMySQL(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, eventID, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// ReserveTx atomically takes one registration slot on the stand
// inside the caller's transaction.  Exactly one of N concurrent
// callers gets the last free slot; the rest receive
// ErrCapacityExceeded with no state change.
func (r *StandRepo) ReserveTx(ctx context.Context, tx *sql.Tx, standID uint64) error {
	const q = `UPDATE stands
               SET current_count = current_count + 1
               WHERE id = ? AND current_count < max_registrations`
	res, err := tx.ExecContext(ctx, q, standID)
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
			`SELECT EXISTS(SELECT 1 FROM stands WHERE id = ?)`, standID).Scan(&exists); err != nil {
			return classifyMySQL(err)
		}
		if !exists {
			return ErrStandNotFound
		}
		return ErrCapacityExceeded
	}
	return nil
}

// ReleaseTx atomically returns one registration slot.  The counter
// never goes below zero.
func (r *StandRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, standID uint64) error {
	const q = `UPDATE stands
               SET current_count = current_count - 1
               WHERE id = ? AND current_count > 0`
	_, err := tx.ExecContext(ctx, q, standID)
	return classifyMySQL(err)
}
