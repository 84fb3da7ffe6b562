// Package service implements the application-level orchestration on
// top of the repositories: admission decisions, participant
// registration and broker notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rmartins/event-access-control/internal/cache"
	"github.com/rmartins/event-access-control/internal/metrics"
	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/queue"
	"github.com/rmartins/event-access-control/internal/repository"
)

// LedgerStore locks one participant and runs admission logic inside
// the same transaction.  *repository.AccessStore is the production
// implementation; tests provide an in-memory one.
type LedgerStore interface {
	WithParticipant(ctx context.Context, eventID uint64, ref string, fn func(repository.LedgerTx) error) error
}

// maxConflictRetries bounds the transparent retries after a deadlock
// or lock wait timeout.  Every other error is terminal.
const maxConflictRetries = 3

// CheckInRequest carries one check-in attempt.  EventID and EventCode
// identify an event already resolved by the caller; ParticipantRef is
// any accepted identifier (UUID, short ID or bare CPF digits).
type CheckInRequest struct {
	EventID             uint64
	EventCode           string
	ParticipantRef      string
	Gate                string
	OperatorName        string
	DeviceIP            string
	VerificationMethod  string
	RequirePreviousExit bool
	ForceEntry          bool
	Notes               string
	IdempotencyKey      string
}

// CheckOutRequest carries one check-out attempt.
type CheckOutRequest struct {
	EventID            uint64
	EventCode          string
	ParticipantRef     string
	Gate               string
	OperatorName       string
	DeviceIP           string
	VerificationMethod string
	ForceExit          bool
	Notes              string
	IdempotencyKey     string
}

// AccessResult reports a recorded (or replayed) ledger append.
type AccessResult struct {
	Log             *model.AccessLog
	Participant     *model.Participant
	InsideCount     int64
	Replayed        bool
	DurationMinutes int64  // check-out only: minutes since the matching entry
	DurationLabel   string // check-out only: "2h05min" style label
}

// AdmissionService coordinates check-ins and check-outs.  Every
// decision runs under the participant row lock held by the store, so
// the precondition check and the append are always one atomic unit.
// Cache invalidation and broker publication happen after commit;
// neither can revert a recorded access.
type AdmissionService struct {
	store   LedgerStore
	cache   *cache.Cache
	amqpURL string
	// notify overrides broker publication, used by tests.
	notify func(ctx context.Context, ev queue.AccessRecordedEvent)
}

// NewAdmissionService builds an AdmissionService.  Cache may be nil;
// amqpURL may be empty to disable publication.
func NewAdmissionService(store LedgerStore, c *cache.Cache, amqpURL string) *AdmissionService {
	return &AdmissionService{store: store, cache: c, amqpURL: amqpURL}
}

// CheckIn records an ENTRY for the participant, enforcing approval and
// presence preconditions unless ForceEntry is set.  Returns the
// recorded row, or the original row when the idempotency key was
// already used.
func (s *AdmissionService) CheckIn(ctx context.Context, req CheckInRequest) (*AccessResult, error) {
	res, err := s.withRetry(ctx, req.EventID, req.ParticipantRef, func(tx repository.LedgerTx) (*AccessResult, error) {
		return s.checkInTx(ctx, tx, req)
	})
	if err != nil {
		metrics.Rejections.WithLabelValues(req.EventCode, rejectionReason(err)).Inc()
		return nil, err
	}
	if !res.Replayed {
		metrics.CheckIns.WithLabelValues(req.EventCode).Inc()
		metrics.Inside.WithLabelValues(req.EventCode).Set(float64(res.InsideCount))
		s.afterCommit(ctx, req.EventCode, res)
	}
	return res, nil
}

func (s *AdmissionService) checkInTx(ctx context.Context, tx repository.LedgerTx, req CheckInRequest) (*AccessResult, error) {
	p := tx.Participant()

	if req.IdempotencyKey != "" {
		prev, err := tx.ByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return &AccessResult{Log: prev, Participant: p, Replayed: true}, nil
		}
	}

	if !p.IsApproved() && !req.ForceEntry {
		return nil, repository.ErrNotApproved
	}

	last, err := tx.Last(ctx)
	if err != nil {
		return nil, err
	}
	presence := model.PresenceFromLast(last)
	if req.RequirePreviousExit && presence.IsInside && !req.ForceEntry {
		return nil, repository.ErrAlreadyInside
	}

	hasEntry, err := tx.HasEntry(ctx)
	if err != nil {
		return nil, err
	}

	al := &model.AccessLog{
		ParticipantID:      p.ID,
		EventID:            req.EventID,
		Type:               model.AccessEntry,
		Gate:               req.Gate,
		OperatorName:       req.OperatorName,
		DeviceIP:           req.DeviceIP,
		VerificationMethod: verification(req.VerificationMethod),
		Forced:             req.ForceEntry,
		Notes:              req.Notes,
		IdempotencyKey:     req.IdempotencyKey,
	}
	if err := tx.Append(ctx, al); err != nil {
		return nil, err
	}
	inside, err := tx.ApplyEntry(ctx, !hasEntry, al.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &AccessResult{Log: al, Participant: p, InsideCount: inside}, nil
}

// CheckOut records an EXIT for the participant.  Without ForceExit the
// participant must currently be inside.  The stay duration is computed
// from the most recent ENTRY and, when the request carries no note, a
// "Permanencia: N minutos" note is recorded automatically.
func (s *AdmissionService) CheckOut(ctx context.Context, req CheckOutRequest) (*AccessResult, error) {
	res, err := s.withRetry(ctx, req.EventID, req.ParticipantRef, func(tx repository.LedgerTx) (*AccessResult, error) {
		return s.checkOutTx(ctx, tx, req)
	})
	if err != nil {
		metrics.Rejections.WithLabelValues(req.EventCode, rejectionReason(err)).Inc()
		return nil, err
	}
	if !res.Replayed {
		metrics.CheckOuts.WithLabelValues(req.EventCode).Inc()
		metrics.Inside.WithLabelValues(req.EventCode).Set(float64(res.InsideCount))
		s.afterCommit(ctx, req.EventCode, res)
	}
	return res, nil
}

func (s *AdmissionService) checkOutTx(ctx context.Context, tx repository.LedgerTx, req CheckOutRequest) (*AccessResult, error) {
	p := tx.Participant()

	if req.IdempotencyKey != "" {
		prev, err := tx.ByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return &AccessResult{Log: prev, Participant: p, Replayed: true}, nil
		}
	}

	last, err := tx.Last(ctx)
	if err != nil {
		return nil, err
	}
	presence := model.PresenceFromLast(last)
	if !presence.IsInside && !req.ForceExit {
		return nil, repository.ErrNotInside
	}

	lastEntry, err := tx.LastEntry(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	minutes := int64(-1)
	if lastEntry != nil {
		minutes = int64(now.Sub(lastEntry.CreatedAt).Minutes())
		if minutes < 0 {
			minutes = 0
		}
	}

	notes := req.Notes
	if notes == "" && minutes >= 0 {
		notes = fmt.Sprintf("Permanencia: %d minutos", minutes)
	}

	al := &model.AccessLog{
		ParticipantID:      p.ID,
		EventID:            req.EventID,
		Type:               model.AccessExit,
		Gate:               req.Gate,
		OperatorName:       req.OperatorName,
		DeviceIP:           req.DeviceIP,
		VerificationMethod: verification(req.VerificationMethod),
		Forced:             req.ForceExit,
		Notes:              notes,
		IdempotencyKey:     req.IdempotencyKey,
	}
	if err := tx.Append(ctx, al); err != nil {
		return nil, err
	}
	inside, err := tx.ApplyExit(ctx, al.CreatedAt)
	if err != nil {
		return nil, err
	}
	res := &AccessResult{Log: al, Participant: p, InsideCount: inside}
	if minutes >= 0 {
		res.DurationMinutes = minutes
		res.DurationLabel = FormatDuration(minutes)
	}
	return res, nil
}

// FastPass auto-selects the direction from the current presence state
// under the same lock: inside records an EXIT, outside records an
// ENTRY with the regular approval and presence policy.
func (s *AdmissionService) FastPass(ctx context.Context, req CheckInRequest) (*AccessResult, error) {
	var exit bool
	res, err := s.withRetry(ctx, req.EventID, req.ParticipantRef, func(tx repository.LedgerTx) (*AccessResult, error) {
		last, err := tx.Last(ctx)
		if err != nil {
			return nil, err
		}
		if model.PresenceFromLast(last).IsInside {
			exit = true
			return s.checkOutTx(ctx, tx, CheckOutRequest{
				EventID:            req.EventID,
				EventCode:          req.EventCode,
				ParticipantRef:     req.ParticipantRef,
				Gate:               req.Gate,
				OperatorName:       req.OperatorName,
				DeviceIP:           req.DeviceIP,
				VerificationMethod: req.VerificationMethod,
				IdempotencyKey:     req.IdempotencyKey,
			})
		}
		exit = false
		in := req
		in.RequirePreviousExit = true
		return s.checkInTx(ctx, tx, in)
	})
	if err != nil {
		metrics.Rejections.WithLabelValues(req.EventCode, rejectionReason(err)).Inc()
		return nil, err
	}
	if !res.Replayed {
		if exit {
			metrics.CheckOuts.WithLabelValues(req.EventCode).Inc()
		} else {
			metrics.CheckIns.WithLabelValues(req.EventCode).Inc()
		}
		metrics.Inside.WithLabelValues(req.EventCode).Set(float64(res.InsideCount))
		s.afterCommit(ctx, req.EventCode, res)
	}
	return res, nil
}

// withRetry runs the decision under the participant lock, retrying a
// bounded number of times on deadlock or lock wait timeout.  The store
// rolled everything back before the conflict surfaces, so a retry
// re-evaluates the policy from scratch.
func (s *AdmissionService) withRetry(ctx context.Context, eventID uint64, ref string, fn func(repository.LedgerTx) (*AccessResult, error)) (*AccessResult, error) {
	var res *AccessResult
	for attempt := 0; ; attempt++ {
		err := s.store.WithParticipant(ctx, eventID, ref, func(tx repository.LedgerTx) error {
			r, err := fn(tx)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repository.ErrConcurrencyConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
		metrics.ConflictRetries.Inc()
		slog.Debug("admission: lock conflict, retrying", "event_id", eventID, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

// afterCommit performs the post-commit side effects: invalidating the
// cached statistics and publishing the ledger append to the broker.
// Both are best-effort and never affect the response.
func (s *AdmissionService) afterCommit(ctx context.Context, eventCode string, res *AccessResult) {
	if s.cache != nil {
		s.cache.InvalidateEventStats(ctx, res.Log.EventID)
	}
	ev := queue.AccessRecordedEvent{
		AccessLogID:     res.Log.ID,
		EventID:         res.Log.EventID,
		EventCode:       eventCode,
		ParticipantID:   res.Participant.ID,
		ParticipantName: res.Participant.Name,
		Type:            res.Log.Type,
		Gate:            res.Log.Gate,
		OperatorName:    res.Log.OperatorName,
		Forced:          res.Log.Forced,
		InsideCount:     res.InsideCount,
		RecordedAt:      res.Log.CreatedAt.Format(time.RFC3339),
	}
	if s.notify != nil {
		s.notify(ctx, ev)
		return
	}
	if s.amqpURL == "" {
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = PublishAccessRecorded(pctx, s.amqpURL, ev)
	}()
}

func verification(m string) string {
	switch strings.ToUpper(m) {
	case model.VerificationQRCode:
		return model.VerificationQRCode
	default:
		return model.VerificationManual
	}
}

// rejectionReason maps a terminal error to the metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, repository.ErrParticipantNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrNotApproved):
		return "not_approved"
	case errors.Is(err, repository.ErrAlreadyInside):
		return "already_inside"
	case errors.Is(err, repository.ErrNotInside):
		return "not_inside"
	case errors.Is(err, repository.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, repository.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}

// FormatDuration renders a stay length in minutes as "XhYYmin", or
// "N min" for stays under an hour.
func FormatDuration(minutes int64) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh%02dmin", minutes/60, minutes%60)
}
