package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rmartins/event-access-control/internal/model"
)

// AccessLogRepo provides access to the append-only ledger.  Rows are
// only ever inserted; history queries order by created_at with id as
// the tie breaker so insertion order decides simultaneous timestamps.
type AccessLogRepo struct {
	db *sql.DB
}

// NewAccessLogRepo returns a new AccessLogRepo bound to the given database.
func NewAccessLogRepo(db *sql.DB) *AccessLogRepo { return &AccessLogRepo{db: db} }

const accessLogColumns = `id, participant_id, event_id, type, gate, operator_name,
               device_ip, verification_method, forced, notes, idempotency_key, created_at`

func scanAccessLog(row interface{ Scan(...any) error }) (*model.AccessLog, error) {
	var al model.AccessLog
	var gate, operator, deviceIP, notes, idemKey sql.NullString
	err := row.Scan(&al.ID, &al.ParticipantID, &al.EventID, &al.Type, &gate,
		&operator, &deviceIP, &al.VerificationMethod, &al.Forced, &notes,
		&idemKey, &al.CreatedAt)
	if err != nil {
		return nil, err
	}
	al.Gate = gate.String
	al.OperatorName = operator.String
	al.DeviceIP = deviceIP.String
	al.Notes = notes.String
	al.IdempotencyKey = idemKey.String
	return &al, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// AppendTx inserts a ledger row within the caller's transaction and
// populates the generated ID and timestamp.  The caller must hold the
// participant row lock taken by ParticipantRepo.LockByRefTx.
func (r *AccessLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, al *model.AccessLog) error {
	if al.CreatedAt.IsZero() {
		al.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO access_logs
               (participant_id, event_id, type, gate, operator_name, device_ip,
                verification_method, forced, notes, idempotency_key, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, al.ParticipantID, al.EventID, al.Type,
		nullable(al.Gate), nullable(al.OperatorName), nullable(al.DeviceIP),
		al.VerificationMethod, al.Forced, nullable(al.Notes),
		nullable(al.IdempotencyKey), al.CreatedAt)
	if err != nil {
		return classifyMySQL(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	al.ID = uint64(id)
	return nil
}

// LastTx returns the most recent ledger entry for a participant at an
// event, or nil when none exists.  Runs inside the caller's
// transaction so the read is covered by the participant lock.
func (r *AccessLogRepo) LastTx(ctx context.Context, tx *sql.Tx, eventID uint64, participantID string) (*model.AccessLog, error) {
	al, err := scanAccessLog(tx.QueryRowContext(ctx,
		`SELECT `+accessLogColumns+` FROM access_logs
         WHERE event_id = ? AND participant_id = ?
         ORDER BY created_at DESC, id DESC LIMIT 1`,
		eventID, participantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return al, classifyMySQL(err)
}

// LastEntryTx returns the most recent ENTRY for a participant, used
// to compute the stay duration on check-out.  Nil when none exists.
func (r *AccessLogRepo) LastEntryTx(ctx context.Context, tx *sql.Tx, eventID uint64, participantID string) (*model.AccessLog, error) {
	al, err := scanAccessLog(tx.QueryRowContext(ctx,
		`SELECT `+accessLogColumns+` FROM access_logs
         WHERE event_id = ? AND participant_id = ? AND type = 'ENTRY'
         ORDER BY created_at DESC, id DESC LIMIT 1`,
		eventID, participantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return al, classifyMySQL(err)
}

// HasEntryTx reports whether the participant has at least one ENTRY
// in the ledger (first-ever entries update the unique visitor count).
func (r *AccessLogRepo) HasEntryTx(ctx context.Context, tx *sql.Tx, eventID uint64, participantID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM access_logs
          WHERE event_id = ? AND participant_id = ? AND type = 'ENTRY')`,
		eventID, participantID).Scan(&exists)
	return exists, classifyMySQL(err)
}

// ByIdempotencyKeyTx returns the entry already recorded under the
// client supplied key, or nil.  Replayed network retries resolve to
// the original append instead of writing a duplicate.
func (r *AccessLogRepo) ByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, eventID uint64, key string) (*model.AccessLog, error) {
	al, err := scanAccessLog(tx.QueryRowContext(ctx,
		`SELECT `+accessLogColumns+` FROM access_logs
         WHERE event_id = ? AND idempotency_key = ? LIMIT 1`,
		eventID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return al, classifyMySQL(err)
}

// Last returns the most recent ledger entry outside a transaction,
// for read-only status views.
func (r *AccessLogRepo) Last(ctx context.Context, eventID uint64, participantID string) (*model.AccessLog, error) {
	al, err := scanAccessLog(r.db.QueryRowContext(ctx,
		`SELECT `+accessLogColumns+` FROM access_logs
         WHERE event_id = ? AND participant_id = ?
         ORDER BY created_at DESC, id DESC LIMIT 1`,
		eventID, participantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return al, err
}

// CountsForParticipant returns per-participant entry and exit totals.
func (r *AccessLogRepo) CountsForParticipant(ctx context.Context, eventID uint64, participantID string) (entries, exits int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(type = 'ENTRY'), 0), COALESCE(SUM(type = 'EXIT'), 0)
         FROM access_logs WHERE event_id = ? AND participant_id = ?`,
		eventID, participantID).Scan(&entries, &exits)
	return entries, exits, err
}

// LogFilter narrows ledger listings.  Zero values mean "no filter".
type LogFilter struct {
	EventID       uint64
	ParticipantID string
	Type          string
	Gate          string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

func (f *LogFilter) where() (string, []any) {
	clauses := []string{"al.event_id = ?"}
	args := []any{f.EventID}
	if f.ParticipantID != "" {
		clauses = append(clauses, "al.participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	if f.Type == model.AccessEntry || f.Type == model.AccessExit {
		clauses = append(clauses, "al.type = ?")
		args = append(args, f.Type)
	}
	if f.Gate != "" {
		clauses = append(clauses, "al.gate = ?")
		args = append(args, f.Gate)
	}
	if f.From != nil {
		clauses = append(clauses, "al.created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		clauses = append(clauses, "al.created_at <= ?")
		args = append(args, f.To.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

// LogWithParticipant is a ledger row joined with the participant
// fields needed by log listings and the CSV export.
type LogWithParticipant struct {
	model.AccessLog
	ParticipantName string
	ParticipantCPF  string
	StandCode       string
}

// List returns ledger rows matching the filter, newest first, with
// their participant and stand info, plus the total match count for
// pagination.
func (r *AccessLogRepo) List(ctx context.Context, f LogFilter) ([]LogWithParticipant, int64, error) {
	where, args := f.where()

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_logs al WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT al.id, al.participant_id, al.event_id, al.type, al.gate,
                 al.operator_name, al.device_ip, al.verification_method, al.forced,
                 al.notes, al.idempotency_key, al.created_at,
                 p.name, p.cpf, COALESCE(s.code, '')
          FROM access_logs al
          JOIN participants p ON p.id = al.participant_id
          LEFT JOIN stands s ON s.id = p.stand_id
          WHERE ` + where + `
          ORDER BY al.created_at DESC, al.id DESC
          LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]LogWithParticipant, 0, limit)
	for rows.Next() {
		var lw LogWithParticipant
		var gate, operator, deviceIP, notes, idemKey sql.NullString
		if err := rows.Scan(&lw.ID, &lw.ParticipantID, &lw.EventID, &lw.Type,
			&gate, &operator, &deviceIP, &lw.VerificationMethod, &lw.Forced,
			&notes, &idemKey, &lw.CreatedAt,
			&lw.ParticipantName, &lw.ParticipantCPF, &lw.StandCode); err != nil {
			return nil, 0, err
		}
		lw.Gate = gate.String
		lw.OperatorName = operator.String
		lw.DeviceIP = deviceIP.String
		lw.Notes = notes.String
		lw.IdempotencyKey = idemKey.String
		out = append(out, lw)
	}
	return out, total, rows.Err()
}

// RecentActivity returns the newest ledger rows of an event with
// participant names, bounded by limit, for the stats activity feed.
func (r *AccessLogRepo) RecentActivity(ctx context.Context, eventID uint64, limit int) ([]LogWithParticipant, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, _, err := r.List(ctx, LogFilter{EventID: eventID, Limit: limit})
	return rows, err
}

// ParticipantsInside returns the IDs of participants whose most
// recent ledger entry is an ENTRY.  Derived purely from the ledger;
// used by the stats view and by stats reconciliation.
func (r *AccessLogRepo) ParticipantsInside(ctx context.Context, eventID uint64) ([]string, error) {
	const q = `SELECT al.participant_id
               FROM access_logs al
               JOIN (SELECT participant_id, MAX(id) AS last_id
                     FROM access_logs WHERE event_id = ?
                     GROUP BY participant_id) last
                 ON last.participant_id = al.participant_id AND last.last_id = al.id
               WHERE al.type = 'ENTRY'`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountsSince returns entry and exit totals recorded at or after the
// given instant (the "hourly today" figures on the stats view).
func (r *AccessLogRepo) CountsSince(ctx context.Context, eventID uint64, since time.Time) (entries, exits int64, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(type = 'ENTRY'), 0), COALESCE(SUM(type = 'EXIT'), 0)
         FROM access_logs WHERE event_id = ? AND created_at >= ?`,
		eventID, since.UTC()).Scan(&entries, &exits)
	return entries, exits, err
}

// HourlyBucket is one hour of entry/exit totals.
type HourlyBucket struct {
	Hour    int   `json:"hour"`
	Entries int64 `json:"entries"`
	Exits   int64 `json:"exits"`
}

// HourlyToday returns today's per-hour entry and exit totals starting
// at midnight UTC.  Hours without movement are omitted.
func (r *AccessLogRepo) HourlyToday(ctx context.Context, eventID uint64) ([]HourlyBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT HOUR(created_at),
                COALESCE(SUM(type = 'ENTRY'), 0),
                COALESCE(SUM(type = 'EXIT'), 0)
         FROM access_logs
         WHERE event_id = ? AND created_at >= UTC_DATE()
         GROUP BY HOUR(created_at)
         ORDER BY HOUR(created_at)`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Entries, &b.Exits); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
