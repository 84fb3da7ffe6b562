package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
)

// fakeLedgerStore mimics the SQL store: WithParticipant holds one
// mutex for the whole callback, which serializes decisions exactly
// like the participant row lock does.
type fakeLedgerStore struct {
	mu           sync.Mutex
	participants []*model.Participant
	logs         []model.AccessLog
	stats        model.AccessStats
	nextLogID    uint64
	conflicts    int // WithParticipant fails this many times first
}

func (s *fakeLedgerStore) WithParticipant(ctx context.Context, eventID uint64, ref string, fn func(repository.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrConcurrencyConflict
	}
	var p *model.Participant
	for _, cand := range s.participants {
		if cand.EventID != eventID || cand.DeletedAt != nil {
			continue
		}
		if cand.ID == ref || cand.ShortID == strings.ToUpper(ref) || cand.CPF == ref {
			p = cand
			break
		}
	}
	if p == nil {
		return repository.ErrParticipantNotFound
	}
	return fn(&fakeLedgerTx{s: s, p: p, eventID: eventID})
}

type fakeLedgerTx struct {
	s       *fakeLedgerStore
	p       *model.Participant
	eventID uint64
}

func (t *fakeLedgerTx) Participant() *model.Participant { return t.p }

func (t *fakeLedgerTx) Last(ctx context.Context) (*model.AccessLog, error) {
	for i := len(t.s.logs) - 1; i >= 0; i-- {
		al := t.s.logs[i]
		if al.EventID == t.eventID && al.ParticipantID == t.p.ID {
			return &al, nil
		}
	}
	return nil, nil
}

func (t *fakeLedgerTx) LastEntry(ctx context.Context) (*model.AccessLog, error) {
	for i := len(t.s.logs) - 1; i >= 0; i-- {
		al := t.s.logs[i]
		if al.EventID == t.eventID && al.ParticipantID == t.p.ID && al.Type == model.AccessEntry {
			return &al, nil
		}
	}
	return nil, nil
}

func (t *fakeLedgerTx) HasEntry(ctx context.Context) (bool, error) {
	le, _ := t.LastEntry(ctx)
	return le != nil, nil
}

func (t *fakeLedgerTx) ByIdempotencyKey(ctx context.Context, key string) (*model.AccessLog, error) {
	for i := range t.s.logs {
		al := t.s.logs[i]
		if al.EventID == t.eventID && al.IdempotencyKey == key {
			return &al, nil
		}
	}
	return nil, nil
}

func (t *fakeLedgerTx) Append(ctx context.Context, al *model.AccessLog) error {
	t.s.nextLogID++
	al.ID = t.s.nextLogID
	if al.CreatedAt.IsZero() {
		al.CreatedAt = time.Now().UTC()
	}
	t.s.logs = append(t.s.logs, *al)
	return nil
}

func (t *fakeLedgerTx) ApplyEntry(ctx context.Context, firstEntry bool, at time.Time) (int64, error) {
	st := &t.s.stats
	st.TotalEntries++
	st.CurrentInsideCount++
	if firstEntry {
		st.UniqueVisitors++
	}
	if st.CurrentInsideCount > st.PeakCount {
		st.PeakCount = st.CurrentInsideCount
		ts := at
		st.PeakTime = &ts
	}
	return st.CurrentInsideCount, nil
}

func (t *fakeLedgerTx) ApplyExit(ctx context.Context, at time.Time) (int64, error) {
	st := &t.s.stats
	st.TotalExits++
	if st.CurrentInsideCount > 0 {
		st.CurrentInsideCount--
	}
	return st.CurrentInsideCount, nil
}

func newParticipant(id, short, cpf string, eventID uint64, status string) *model.Participant {
	return &model.Participant{
		ID: id, ShortID: short, EventID: eventID, CPF: cpf,
		Name: "Test Person", ApprovalStatus: status,
	}
}

// quietService builds the service without cache or broker; with an
// empty broker URL afterCommit never dials anything.
func quietService(store *fakeLedgerStore) *AdmissionService {
	return NewAdmissionService(store, nil, "")
}

func checkIn(ref string) CheckInRequest {
	return CheckInRequest{
		EventID: 1, EventCode: "EVT2025", ParticipantRef: ref,
		Gate: "G1", OperatorName: "op", RequirePreviousExit: true,
	}
}

func checkOut(ref string) CheckOutRequest {
	return CheckOutRequest{
		EventID: 1, EventCode: "EVT2025", ParticipantRef: ref,
		Gate: "G1", OperatorName: "op",
	}
}

func TestCheckInRecordsEntry(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	res, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	require.NoError(t, err)
	assert.Equal(t, model.AccessEntry, res.Log.Type)
	assert.Equal(t, int64(1), res.InsideCount)
	assert.False(t, res.Log.Forced)
	assert.Equal(t, int64(1), store.stats.UniqueVisitors)
}

func TestCheckInByShortIDAndCPF(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("aaaa1111"))
	require.NoError(t, err)
	_, err = svc.CheckOut(context.Background(), checkOut("12345678901"))
	require.NoError(t, err)
}

func TestCheckInUnknownParticipant(t *testing.T) {
	store := &fakeLedgerStore{}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("nobody"))
	assert.ErrorIs(t, err, repository.ErrParticipantNotFound)
}

func TestCheckInNotApproved(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalPending),
	}}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	assert.ErrorIs(t, err, repository.ErrNotApproved)
	assert.Empty(t, store.logs, "a rejected attempt must not touch the ledger")
}

func TestForceEntryBypassesApproval(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalRejected),
	}}
	svc := quietService(store)

	req := checkIn("p-1")
	req.ForceEntry = true
	res, err := svc.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Log.Forced, "override must be flagged on the ledger row")
}

func TestDoubleCheckInRejected(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	require.NoError(t, err)
	_, err = svc.CheckIn(context.Background(), checkIn("p-1"))
	assert.ErrorIs(t, err, repository.ErrAlreadyInside)
	assert.Len(t, store.logs, 1)
}

func TestReEntryAllowedWithoutRequirePreviousExit(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	require.NoError(t, err)

	req := checkIn("p-1")
	req.RequirePreviousExit = false
	_, err = svc.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.stats.TotalEntries)
	assert.Equal(t, int64(1), store.stats.UniqueVisitors, "re-entry is not a new unique visitor")
}

func TestCheckOutWithoutEntry(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	_, err := svc.CheckOut(context.Background(), checkOut("p-1"))
	assert.ErrorIs(t, err, repository.ErrNotInside)

	req := checkOut("p-1")
	req.ForceExit = true
	res, err := svc.CheckOut(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Log.Forced)
	assert.Equal(t, int64(0), res.InsideCount, "inside count never goes negative")
}

func TestCheckOutDurationAndNote(t *testing.T) {
	entryAt := time.Now().UTC().Add(-125 * time.Minute)
	store := &fakeLedgerStore{
		participants: []*model.Participant{
			newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
		},
		logs: []model.AccessLog{{
			ID: 1, ParticipantID: "p-1", EventID: 1,
			Type: model.AccessEntry, CreatedAt: entryAt,
		}},
		nextLogID: 1,
	}
	store.stats.CurrentInsideCount = 1
	svc := quietService(store)

	res, err := svc.CheckOut(context.Background(), checkOut("p-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(125), res.DurationMinutes)
	assert.Equal(t, "2h05min", res.DurationLabel)
	assert.Equal(t, "Permanencia: 125 minutos", res.Log.Notes)
}

func TestCheckOutKeepsCallerNote(t *testing.T) {
	store := &fakeLedgerStore{
		participants: []*model.Participant{
			newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
		},
		logs: []model.AccessLog{{
			ID: 1, ParticipantID: "p-1", EventID: 1,
			Type: model.AccessEntry, CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
		}},
		nextLogID: 1,
	}
	svc := quietService(store)

	req := checkOut("p-1")
	req.Notes = "saiu para almoco"
	res, err := svc.CheckOut(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "saiu para almoco", res.Log.Notes)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	req := checkIn("p-1")
	req.IdempotencyKey = "scan-42"
	first, err := svc.CheckIn(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.CheckIn(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Log.ID, second.Log.ID)
	assert.Len(t, store.logs, 1, "replay must not double-write")
	assert.Equal(t, int64(1), store.stats.TotalEntries)
}

func TestFastPassTogglesDirection(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	res, err := svc.FastPass(context.Background(), checkIn("p-1"))
	require.NoError(t, err)
	assert.Equal(t, model.AccessEntry, res.Log.Type)

	res, err = svc.FastPass(context.Background(), checkIn("p-1"))
	require.NoError(t, err)
	assert.Equal(t, model.AccessExit, res.Log.Type)
	assert.Equal(t, int64(0), res.InsideCount)
}

func TestConflictRetrySucceeds(t *testing.T) {
	store := &fakeLedgerStore{
		participants: []*model.Participant{
			newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
		},
		conflicts: 2,
	}
	svc := quietService(store)

	res, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.InsideCount)
}

func TestConflictRetryGivesUp(t *testing.T) {
	store := &fakeLedgerStore{
		participants: []*model.Participant{
			newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
		},
		conflicts: 100,
	}
	svc := quietService(store)

	_, err := svc.CheckIn(context.Background(), checkIn("p-1"))
	assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
}

func TestLedgerScenarioInsideCount(t *testing.T) {
	// Five entries and two exits across three participants leave
	// three people inside.
	parts := []*model.Participant{
		newParticipant("p-1", "AAAA1111", "11111111111", 1, model.ApprovalApproved),
		newParticipant("p-2", "BBBB2222", "22222222222", 1, model.ApprovalApproved),
		newParticipant("p-3", "CCCC3333", "33333333333", 1, model.ApprovalApproved),
	}
	store := &fakeLedgerStore{participants: parts}
	svc := quietService(store)
	ctx := context.Background()

	relax := func(ref string) CheckInRequest {
		r := checkIn(ref)
		r.RequirePreviousExit = false
		return r
	}

	_, err := svc.CheckIn(ctx, relax("p-1"))
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, relax("p-2"))
	require.NoError(t, err)
	_, err = svc.CheckOut(ctx, checkOut("p-1"))
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, relax("p-3"))
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, relax("p-1"))
	require.NoError(t, err)
	_, err = svc.CheckOut(ctx, checkOut("p-2"))
	require.NoError(t, err)
	res, err := svc.CheckIn(ctx, relax("p-2"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.InsideCount)
	assert.Equal(t, int64(5), store.stats.TotalEntries)
	assert.Equal(t, int64(2), store.stats.TotalExits)
	assert.Equal(t, int64(3), store.stats.UniqueVisitors)
	assert.Equal(t, int64(3), store.stats.PeakCount)
}

func TestConcurrentCheckInSingleParticipant(t *testing.T) {
	store := &fakeLedgerStore{participants: []*model.Participant{
		newParticipant("p-1", "AAAA1111", "12345678901", 1, model.ApprovalApproved),
	}}
	svc := quietService(store)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CheckIn(context.Background(), checkIn("p-1"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, repository.ErrAlreadyInside)
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent check-in may win")
	assert.Len(t, store.logs, 1)
	assert.Equal(t, int64(1), store.stats.CurrentInsideCount)
}

func TestPeakIsMonotonic(t *testing.T) {
	parts := make([]*model.Participant, 0, 10)
	for i := 0; i < 10; i++ {
		id := string(rune('a'+i)) + "-id"
		parts = append(parts, newParticipant(id, "", "", 1, model.ApprovalApproved))
	}
	store := &fakeLedgerStore{participants: parts}
	svc := quietService(store)
	ctx := context.Background()

	for _, p := range parts {
		_, err := svc.CheckIn(ctx, checkIn(p.ID))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), store.stats.PeakCount)

	for _, p := range parts {
		_, err := svc.CheckOut(ctx, checkOut(p.ID))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), store.stats.CurrentInsideCount)
	assert.Equal(t, int64(10), store.stats.PeakCount, "peak never decreases")
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		minutes int64
		want    string
	}{
		{0, "0 min"},
		{45, "45 min"},
		{59, "59 min"},
		{60, "1h00min"},
		{125, "2h05min"},
		{600, "10h00min"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatDuration(tc.minutes))
	}
}
