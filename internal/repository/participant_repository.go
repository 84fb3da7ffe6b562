package repository

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rmartins/event-access-control/internal/model"
)

// cpfDigits matches a bare 11 digit CPF document number.  Status
// lookups accept a CPF typed by an operator as a fallback identifier.
var cpfDigits = regexp.MustCompile(`^\d{11}$`)

// ParticipantRepo provides data access to the participants table.
// Every lookup that feeds an admission decision is scoped by event:
// participants are segregated per event and a short id or CPF from a
// different event must never match.
type ParticipantRepo struct {
	db *sql.DB
}

// NewParticipantRepo returns a new ParticipantRepo bound to the given database.
func NewParticipantRepo(db *sql.DB) *ParticipantRepo { return &ParticipantRepo{db: db} }

const participantColumns = `id, short_id, event_id, stand_id, name, cpf, email, phone,
               approval_status, deleted_at, created_at, updated_at`

func scanParticipant(row interface{ Scan(...any) error }) (*model.Participant, error) {
	var p model.Participant
	var standID sql.NullInt64
	var deletedAt sql.NullTime
	err := row.Scan(&p.ID, &p.ShortID, &p.EventID, &standID, &p.Name, &p.CPF,
		&p.Email, &p.Phone, &p.ApprovalStatus, &deletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if standID.Valid {
		id := uint64(standID.Int64)
		p.StandID = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return &p, nil
}

// NewShortID derives the compact QR identifier from a participant
// UUID: the first 8 hex characters, upper-cased.
func NewShortID(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	return strings.ToUpper(clean)
}

// CreateTx inserts a participant within the caller's transaction.
// The ID and ShortID are generated here when absent.  Registration
// must reserve the event (and stand) slots in the same transaction
// before calling this, so a failed reserve leaves no orphan row.
func (r *ParticipantRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ShortID == "" {
		p.ShortID = NewShortID(p.ID)
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = model.ApprovalPending
	}
	const q = `INSERT INTO participants
               (id, short_id, event_id, stand_id, name, cpf, email, phone, approval_status)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var standID any
	if p.StandID != nil {
		standID = *p.StandID
	}
	_, err := tx.ExecContext(ctx, q, p.ID, p.ShortID, p.EventID, standID,
		p.Name, p.CPF, p.Email, p.Phone, p.ApprovalStatus)
	return classifyMySQL(err)
}

// identifierClause returns the WHERE fragment and argument for a
// raw identifier, which may be a full UUID, an 8 character short id
// or a bare CPF.
func identifierClause(ref string) (string, any) {
	ref = strings.TrimSpace(ref)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, ref)
	switch {
	case cpfDigits.MatchString(digits) && len(ref) <= 14:
		return "cpf = ?", digits
	case len(ref) == 8:
		return "short_id = ?", strings.ToUpper(ref)
	default:
		return "id = ?", ref
	}
}

// FindByRef resolves a participant inside one event by full id, short
// id or CPF.  Soft-deleted participants and participants of other
// events are reported as ErrParticipantNotFound.
func (r *ParticipantRepo) FindByRef(ctx context.Context, eventID uint64, ref string) (*model.Participant, error) {
	clause, arg := identifierClause(ref)
	p, err := scanParticipant(r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants
         WHERE event_id = ? AND deleted_at IS NULL AND `+clause+` LIMIT 1`,
		eventID, arg))
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}
	return p, err
}

// LockByRefTx resolves and row-locks a participant within the
// caller's transaction (SELECT ... FOR UPDATE).  The lock serializes
// every concurrent admission decision for the same participant,
// including the first-ever entry where no ledger row exists yet.
func (r *ParticipantRepo) LockByRefTx(ctx context.Context, tx *sql.Tx, eventID uint64, ref string) (*model.Participant, error) {
	clause, arg := identifierClause(ref)
	p, err := scanParticipant(tx.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants
         WHERE event_id = ? AND deleted_at IS NULL AND `+clause+` LIMIT 1 FOR UPDATE`,
		eventID, arg))
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}
	return p, classifyMySQL(err)
}

// ListByEvent returns active participants of an event, newest first,
// with limit/offset pagination.
func (r *ParticipantRepo) ListByEvent(ctx context.Context, eventID uint64, limit, offset int) ([]model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
         WHERE event_id = ? AND deleted_at IS NULL
         ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		eventID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListByIDs fetches active participants by primary key, preserving no
// particular order.  Used to hydrate the currently-inside list.
func (r *ParticipantRepo) ListByIDs(ctx context.Context, ids []string) ([]model.Participant, error) {
	if len(ids) == 0 {
		return []model.Participant{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
         WHERE deleted_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Participant, 0, len(ids))
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetApprovalStatus transitions the approval state of a participant.
func (r *ParticipantRepo) SetApprovalStatus(ctx context.Context, eventID uint64, id, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE participants SET approval_status = ?
         WHERE id = ? AND event_id = ? AND deleted_at IS NULL`,
		status, id, eventID)
	if err != nil {
		return classifyMySQL(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// SoftDeleteTx marks a participant deleted within the caller's
// transaction and reports the stand it occupied, so the caller can
// release the stand and event slots atomically.  Deleting an already
// deleted participant is a no-op error.
func (r *ParticipantRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, eventID uint64, id string) (*model.Participant, error) {
	p, err := scanParticipant(tx.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants
         WHERE id = ? AND event_id = ? AND deleted_at IS NULL FOR UPDATE`, id, eventID))
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, classifyMySQL(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE participants SET deleted_at = UTC_TIMESTAMP() WHERE id = ?`, id); err != nil {
		return nil, classifyMySQL(err)
	}
	return p, nil
}
