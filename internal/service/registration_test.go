package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
)

// fakeRegistrarStore enforces a bounded slot count under a mutex, the
// way the SQL store's conditional UPDATE does.
type fakeRegistrarStore struct {
	mu       sync.Mutex
	capacity int
	count    int
	inserted []*model.Participant
}

func (s *fakeRegistrarStore) Register(ctx context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && s.count >= s.capacity {
		return repository.ErrCapacityExceeded
	}
	s.count++
	p.ID = "p-generated"
	p.ShortID = "ABCD1234"
	s.inserted = append(s.inserted, p)
	return nil
}

func (s *fakeRegistrarStore) Unregister(ctx context.Context, eventID uint64, participantID string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.inserted {
		if p.ID == participantID && p.EventID == eventID {
			s.count--
			return p, nil
		}
	}
	return nil, repository.ErrParticipantNotFound
}

func TestRegisterNormalizesCPF(t *testing.T) {
	store := &fakeRegistrarStore{capacity: 10}
	svc := NewRegistrationService(store, nil)

	p, err := svc.Register(context.Background(), RegisterRequest{
		EventID: 1, EventCode: "EVT2025",
		Name: "  Maria Silva  ", CPF: "123.456.789-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "12345678901", p.CPF)
	assert.Equal(t, "Maria Silva", p.Name)
	assert.Equal(t, model.ApprovalPending, p.ApprovalStatus)
}

func TestRegisterValidation(t *testing.T) {
	store := &fakeRegistrarStore{capacity: 10}
	svc := NewRegistrationService(store, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{EventID: 1, Name: "", CPF: "12345678901"})
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = svc.Register(ctx, RegisterRequest{EventID: 1, Name: "X", CPF: "123"})
	assert.ErrorIs(t, err, ErrInvalidCPF)

	_, err = svc.Register(ctx, RegisterRequest{EventID: 1, Name: "X", CPF: "1234567890123"})
	assert.ErrorIs(t, err, ErrInvalidCPF)

	assert.Empty(t, store.inserted, "invalid requests never reach the store")
}

func TestRegisterCapacityRace(t *testing.T) {
	store := &fakeRegistrarStore{capacity: 1}
	svc := NewRegistrationService(store, nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), RegisterRequest{
				EventID: 1, EventCode: "EVT2025",
				Name: "Racer", CPF: "12345678901",
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, repository.ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 1, ok, "exactly one registration may take the last slot")
	assert.Len(t, store.inserted, 1)
}

func TestUnregisterReleasesSlot(t *testing.T) {
	store := &fakeRegistrarStore{capacity: 1}
	svc := NewRegistrationService(store, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{EventID: 1, Name: "A", CPF: "12345678901"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{EventID: 1, Name: "B", CPF: "12345678902"})
	assert.ErrorIs(t, err, repository.ErrCapacityExceeded)

	_, err = svc.Unregister(ctx, 1, "p-generated")
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{EventID: 1, Name: "B", CPF: "12345678902"})
	assert.NoError(t, err, "released slot is available again")
}
