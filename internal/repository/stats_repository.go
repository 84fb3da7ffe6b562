package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rmartins/event-access-control/internal/model"
)

// StatsRepo maintains the denormalized access_stats rollup.  The
// counters are written in the same transaction as the ledger append
// (ApplyEntryTx/ApplyExitTx) and periodically recomputed from the
// ledger to correct any drift.
type StatsRepo struct {
	db *sql.DB
}

// NewStatsRepo returns a new StatsRepo bound to the given database.
func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

const statsColumns = `event_id, current_inside_count, total_entries, total_exits,
               unique_visitors, peak_count, peak_time, last_entry_at, last_exit_at, updated_at`

func scanStats(row interface{ Scan(...any) error }) (*model.AccessStats, error) {
	var st model.AccessStats
	var peakTime, lastEntry, lastExit sql.NullTime
	err := row.Scan(&st.EventID, &st.CurrentInsideCount, &st.TotalEntries,
		&st.TotalExits, &st.UniqueVisitors, &st.PeakCount, &peakTime,
		&lastEntry, &lastExit, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if peakTime.Valid {
		t := peakTime.Time
		st.PeakTime = &t
	}
	if lastEntry.Valid {
		t := lastEntry.Time
		st.LastEntryAt = &t
	}
	if lastExit.Valid {
		t := lastExit.Time
		st.LastExitAt = &t
	}
	return &st, nil
}

// Get returns the rollup row for an event.  Events that never saw an
// access yet yield a zero-valued snapshot instead of an error.
func (r *StatsRepo) Get(ctx context.Context, eventID uint64) (*model.AccessStats, error) {
	st, err := scanStats(r.db.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM access_stats WHERE event_id = ?`, eventID))
	if err == sql.ErrNoRows {
		return &model.AccessStats{EventID: eventID, UpdatedAt: time.Now().UTC()}, nil
	}
	return st, err
}

// ApplyEntryTx applies one ENTRY to the rollup inside the caller's
// transaction and returns the resulting inside count.  firstEntry
// marks the participant's first-ever ENTRY and bumps the unique
// visitor count.  The peak is raised in a separate guarded UPDATE so
// it can only ever move up.
func (r *StatsRepo) ApplyEntryTx(ctx context.Context, tx *sql.Tx, eventID uint64, firstEntry bool, at time.Time) (int64, error) {
	at = at.UTC()
	unique := 0
	if firstEntry {
		unique = 1
	}
	const upsert = `INSERT INTO access_stats
               (event_id, current_inside_count, total_entries, total_exits,
                unique_visitors, peak_count, peak_time, last_entry_at)
               VALUES (?, 1, 1, 0, ?, 1, ?, ?)
               ON DUPLICATE KEY UPDATE
                 current_inside_count = current_inside_count + 1,
                 total_entries = total_entries + 1,
                 unique_visitors = unique_visitors + VALUES(unique_visitors),
                 last_entry_at = VALUES(last_entry_at)`
	if _, err := tx.ExecContext(ctx, upsert, eventID, unique, at, at); err != nil {
		return 0, classifyMySQL(err)
	}
	// peak_count is monotonic: only ever raised, never lowered.
	const raisePeak = `UPDATE access_stats
               SET peak_count = current_inside_count, peak_time = ?
               WHERE event_id = ? AND current_inside_count > peak_count`
	if _, err := tx.ExecContext(ctx, raisePeak, at, eventID); err != nil {
		return 0, classifyMySQL(err)
	}
	var inside int64
	err := tx.QueryRowContext(ctx,
		`SELECT current_inside_count FROM access_stats WHERE event_id = ?`,
		eventID).Scan(&inside)
	return inside, classifyMySQL(err)
}

// ApplyExitTx applies one EXIT to the rollup inside the caller's
// transaction and returns the resulting inside count.  The inside
// counter is floored at zero so forced exits without a matching entry
// cannot drive it negative.
func (r *StatsRepo) ApplyExitTx(ctx context.Context, tx *sql.Tx, eventID uint64, at time.Time) (int64, error) {
	at = at.UTC()
	const upsert = `INSERT INTO access_stats
               (event_id, current_inside_count, total_entries, total_exits,
                unique_visitors, peak_count, last_exit_at)
               VALUES (?, 0, 0, 1, 0, 0, ?)
               ON DUPLICATE KEY UPDATE
                 current_inside_count = GREATEST(current_inside_count - 1, 0),
                 total_exits = total_exits + 1,
                 last_exit_at = VALUES(last_exit_at)`
	if _, err := tx.ExecContext(ctx, upsert, eventID, at); err != nil {
		return 0, classifyMySQL(err)
	}
	var inside int64
	err := tx.QueryRowContext(ctx,
		`SELECT current_inside_count FROM access_stats WHERE event_id = ?`,
		eventID).Scan(&inside)
	return inside, classifyMySQL(err)
}

// ComputeFromLogs aggregates the ledger from scratch.  This is the
// ground truth the denormalized row is reconciled against.
func (r *StatsRepo) ComputeFromLogs(ctx context.Context, eventID uint64) (*model.AccessStats, error) {
	st := &model.AccessStats{EventID: eventID, UpdatedAt: time.Now().UTC()}

	var lastEntry, lastExit sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(type = 'ENTRY'), 0),
                COALESCE(SUM(type = 'EXIT'), 0),
                COUNT(DISTINCT CASE WHEN type = 'ENTRY' THEN participant_id END),
                MAX(CASE WHEN type = 'ENTRY' THEN created_at END),
                MAX(CASE WHEN type = 'EXIT' THEN created_at END)
         FROM access_logs WHERE event_id = ?`, eventID).Scan(
		&st.TotalEntries, &st.TotalExits, &st.UniqueVisitors, &lastEntry, &lastExit)
	if err != nil {
		return nil, err
	}
	if lastEntry.Valid {
		t := lastEntry.Time
		st.LastEntryAt = &t
	}
	if lastExit.Valid {
		t := lastExit.Time
		st.LastExitAt = &t
	}

	const insideQ = `SELECT COUNT(*)
               FROM access_logs al
               JOIN (SELECT participant_id, MAX(id) AS last_id
                     FROM access_logs WHERE event_id = ?
                     GROUP BY participant_id) last
                 ON last.participant_id = al.participant_id AND last.last_id = al.id
               WHERE al.type = 'ENTRY'`
	if err := r.db.QueryRowContext(ctx, insideQ, eventID).Scan(&st.CurrentInsideCount); err != nil {
		return nil, err
	}
	return st, nil
}

// Reconcile recomputes the rollup from the ledger and corrects the
// stored row when it drifted.  It returns the recomputed snapshot and
// whether a correction was applied; the caller logs corrections so
// drift never passes silently.  peak_count is never lowered.
func (r *StatsRepo) Reconcile(ctx context.Context, eventID uint64) (*model.AccessStats, bool, error) {
	truth, err := r.ComputeFromLogs(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	stored, err := r.Get(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	drifted := stored.CurrentInsideCount != truth.CurrentInsideCount ||
		stored.TotalEntries != truth.TotalEntries ||
		stored.TotalExits != truth.TotalExits ||
		stored.UniqueVisitors != truth.UniqueVisitors
	if !drifted {
		return truth, false, nil
	}
	const q = `INSERT INTO access_stats
               (event_id, current_inside_count, total_entries, total_exits,
                unique_visitors, peak_count, last_entry_at, last_exit_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                 current_inside_count = VALUES(current_inside_count),
                 total_entries = VALUES(total_entries),
                 total_exits = VALUES(total_exits),
                 unique_visitors = VALUES(unique_visitors),
                 peak_count = GREATEST(peak_count, VALUES(peak_count)),
                 last_entry_at = VALUES(last_entry_at),
                 last_exit_at = VALUES(last_exit_at)`
	_, err = r.db.ExecContext(ctx, q, eventID, truth.CurrentInsideCount,
		truth.TotalEntries, truth.TotalExits, truth.UniqueVisitors,
		truth.CurrentInsideCount, truth.LastEntryAt, truth.LastExitAt)
	if err != nil {
		return nil, false, classifyMySQL(err)
	}
	return truth, true, nil
}

// EventIDs returns every event that has a rollup row, for the
// periodic reconciliation sweep.
func (r *StatsRepo) EventIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id FROM access_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
