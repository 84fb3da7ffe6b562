package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rmartins/event-access-control/internal/model"
)

// LedgerTx is the set of ledger and rollup operations available while
// holding the per-participant row lock.  The admission service reads
// the presence state and appends through this interface only, so the
// precondition check and the append always happen under the same
// lock; a precondition read taken before lock acquisition is never
// trusted.
type LedgerTx interface {
	// Participant returns the locked participant row.
	Participant() *model.Participant
	// Last returns the most recent ledger entry, nil when none exists.
	Last(ctx context.Context) (*model.AccessLog, error)
	// LastEntry returns the most recent ENTRY, nil when none exists.
	LastEntry(ctx context.Context) (*model.AccessLog, error)
	// HasEntry reports whether any ENTRY was ever recorded.
	HasEntry(ctx context.Context) (bool, error)
	// ByIdempotencyKey returns the entry recorded under the key, nil when new.
	ByIdempotencyKey(ctx context.Context, key string) (*model.AccessLog, error)
	// Append inserts a ledger row.
	Append(ctx context.Context, al *model.AccessLog) error
	// ApplyEntry updates the rollup for one ENTRY, returning the inside count.
	ApplyEntry(ctx context.Context, firstEntry bool, at time.Time) (int64, error)
	// ApplyExit updates the rollup for one EXIT, returning the inside count.
	ApplyExit(ctx context.Context, at time.Time) (int64, error)
}

// AccessStore runs admission decisions inside a transaction that
// row-locks the participant (SELECT ... FOR UPDATE).  Locking the
// participant row rather than the newest ledger row serializes
// concurrent decisions even for a participant without any ledger
// entries yet.
type AccessStore struct {
	db           *sql.DB
	participants *ParticipantRepo
	logs         *AccessLogRepo
	stats        *StatsRepo
}

// NewAccessStore builds an AccessStore over the shared repositories.
func NewAccessStore(db *sql.DB, participants *ParticipantRepo, logs *AccessLogRepo, stats *StatsRepo) *AccessStore {
	return &AccessStore{db: db, participants: participants, logs: logs, stats: stats}
}

// WithParticipant resolves and locks the participant identified by
// ref inside eventID, then runs fn within the same transaction.  The
// transaction commits only when fn returns nil; any error rolls back
// every write including the rollup updates.  Deadlocks surface as
// ErrConcurrencyConflict and are safe to retry.
func (s *AccessStore) WithParticipant(ctx context.Context, eventID uint64, ref string, fn func(LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	p, err := s.participants.LockByRefTx(ctx, tx, eventID, ref)
	if err != nil {
		return err
	}
	if err := fn(&sqlLedgerTx{store: s, tx: tx, participant: p}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyMySQL(err)
	}
	committed = true
	return nil
}

// sqlLedgerTx adapts the repository Tx methods to the LedgerTx
// interface for one locked participant.
type sqlLedgerTx struct {
	store       *AccessStore
	tx          *sql.Tx
	participant *model.Participant
}

func (t *sqlLedgerTx) Participant() *model.Participant { return t.participant }

func (t *sqlLedgerTx) Last(ctx context.Context) (*model.AccessLog, error) {
	return t.store.logs.LastTx(ctx, t.tx, t.participant.EventID, t.participant.ID)
}

func (t *sqlLedgerTx) LastEntry(ctx context.Context) (*model.AccessLog, error) {
	return t.store.logs.LastEntryTx(ctx, t.tx, t.participant.EventID, t.participant.ID)
}

func (t *sqlLedgerTx) HasEntry(ctx context.Context) (bool, error) {
	return t.store.logs.HasEntryTx(ctx, t.tx, t.participant.EventID, t.participant.ID)
}

func (t *sqlLedgerTx) ByIdempotencyKey(ctx context.Context, key string) (*model.AccessLog, error) {
	return t.store.logs.ByIdempotencyKeyTx(ctx, t.tx, t.participant.EventID, key)
}

func (t *sqlLedgerTx) Append(ctx context.Context, al *model.AccessLog) error {
	return t.store.logs.AppendTx(ctx, t.tx, al)
}

func (t *sqlLedgerTx) ApplyEntry(ctx context.Context, firstEntry bool, at time.Time) (int64, error) {
	return t.store.stats.ApplyEntryTx(ctx, t.tx, t.participant.EventID, firstEntry, at)
}

func (t *sqlLedgerTx) ApplyExit(ctx context.Context, at time.Time) (int64, error) {
	return t.store.stats.ApplyExitTx(ctx, t.tx, t.participant.EventID, at)
}

// RegistrationStore persists a new participant together with the
// capacity reservations it depends on, in a single transaction: the
// event slot is reserved first, then the stand slot when a stand was
// chosen, then the participant row is inserted.  Any failure rolls
// back the whole unit, leaving no orphaned reservation or record.
type RegistrationStore struct {
	db           *sql.DB
	events       *EventRepo
	stands       *StandRepo
	participants *ParticipantRepo
}

// NewRegistrationStore builds a RegistrationStore over the shared repositories.
func NewRegistrationStore(db *sql.DB, events *EventRepo, stands *StandRepo, participants *ParticipantRepo) *RegistrationStore {
	return &RegistrationStore{db: db, events: events, stands: stands, participants: participants}
}

// Register reserves capacity and inserts the participant atomically.
// On ErrCapacityExceeded nothing was written.
func (s *RegistrationStore) Register(ctx context.Context, p *model.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := s.events.ReserveTx(ctx, tx, p.EventID); err != nil {
		return err
	}
	if p.StandID != nil {
		if err := s.stands.ReserveTx(ctx, tx, *p.StandID); err != nil {
			return err
		}
	}
	if err := s.participants.CreateTx(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyMySQL(err)
	}
	committed = true
	return nil
}

// Unregister soft-deletes the participant and releases the event and
// stand slots in one transaction.
func (s *RegistrationStore) Unregister(ctx context.Context, eventID uint64, participantID string) (*model.Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyMySQL(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	p, err := s.participants.SoftDeleteTx(ctx, tx, eventID, participantID)
	if err != nil {
		return nil, err
	}
	if err := s.events.ReleaseTx(ctx, tx, eventID); err != nil {
		return nil, err
	}
	if p.StandID != nil {
		if err := s.stands.ReleaseTx(ctx, tx, *p.StandID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyMySQL(err)
	}
	committed = true
	return p, nil
}
