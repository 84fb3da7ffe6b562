package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rmartins/event-access-control/internal/cache"
	"github.com/rmartins/event-access-control/internal/metrics"
	"github.com/rmartins/event-access-control/internal/model"
)

// RegistrarStore persists a participant together with its capacity
// reservations.  *repository.RegistrationStore is the production
// implementation.
type RegistrarStore interface {
	Register(ctx context.Context, p *model.Participant) error
	Unregister(ctx context.Context, eventID uint64, participantID string) (*model.Participant, error)
}

// ErrInvalidCPF is returned when the document number does not contain
// exactly eleven digits after stripping punctuation.
var ErrInvalidCPF = errors.New("invalid cpf")

// ErrMissingName is returned when the participant name is blank.
var ErrMissingName = errors.New("participant name is required")

var nonDigits = regexp.MustCompile(`\D`)

// RegistrationService validates and registers participants.  Capacity
// is enforced by the store's atomic reserve, never here: a full event
// or stand surfaces as repository.ErrCapacityExceeded no matter how
// many registrations race.
type RegistrationService struct {
	store RegistrarStore
	cache *cache.Cache
}

// NewRegistrationService builds a RegistrationService.  Cache may be nil.
func NewRegistrationService(store RegistrarStore, c *cache.Cache) *RegistrationService {
	return &RegistrationService{store: store, cache: c}
}

// RegisterRequest carries one registration.  StandID is optional.
type RegisterRequest struct {
	EventID   uint64
	EventCode string
	StandID   *uint64
	Name      string
	CPF       string
	Email     string
	Phone     string
}

// Register validates the request, reserves the event (and stand) slot
// and inserts the participant in one transaction.  The returned
// participant carries the generated UUID and short ID.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest) (*model.Participant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	cpf := nonDigits.ReplaceAllString(req.CPF, "")
	if len(cpf) != 11 {
		return nil, ErrInvalidCPF
	}

	p := &model.Participant{
		EventID:        req.EventID,
		StandID:        req.StandID,
		Name:           name,
		CPF:            cpf,
		Email:          strings.TrimSpace(req.Email),
		Phone:          strings.TrimSpace(req.Phone),
		ApprovalStatus: model.ApprovalPending,
	}
	if err := s.store.Register(ctx, p); err != nil {
		return nil, err
	}
	metrics.Registrations.WithLabelValues(req.EventCode).Inc()
	if s.cache != nil {
		s.cache.InvalidateEventStats(ctx, req.EventID)
	}
	return p, nil
}

// Unregister soft-deletes the participant and releases the event and
// stand slots it held.
func (s *RegistrationService) Unregister(ctx context.Context, eventID uint64, participantID string) (*model.Participant, error) {
	p, err := s.store.Unregister(ctx, eventID, participantID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.InvalidateEventStats(ctx, eventID)
	}
	return p, nil
}
