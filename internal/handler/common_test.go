package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
	"github.com/rmartins/event-access-control/internal/service"
)

func newTestContext(t *testing.T, target string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{repository.ErrEventNotFound, http.StatusNotFound},
		{repository.ErrStandNotFound, http.StatusNotFound},
		{repository.ErrParticipantNotFound, http.StatusNotFound},
		{repository.ErrCapacityExceeded, http.StatusConflict},
		{repository.ErrNotApproved, http.StatusUnprocessableEntity},
		{repository.ErrAlreadyInside, http.StatusConflict},
		{repository.ErrNotInside, http.StatusConflict},
		{repository.ErrDuplicate, http.StatusConflict},
		{repository.ErrConcurrencyConflict, http.StatusServiceUnavailable},
		{service.ErrInvalidCPF, http.StatusBadRequest},
		{service.ErrMissingName, http.StatusBadRequest},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		c, rec := newTestContext(t, "/")
		require.NoError(t, writeDomainError(c, tc.err))
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

func TestFilterFromQuery(t *testing.T) {
	c, _ := newTestContext(t,
		"/v1/access/logs?eventId=7&type=entry&gate=G1&participantId=p-1&limit=50&offset=10"+
			"&from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z")

	f, err := filterFromQuery(c)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.EventID)
	assert.Equal(t, model.AccessEntry, f.Type)
	assert.Equal(t, "G1", f.Gate)
	assert.Equal(t, "p-1", f.ParticipantID)
	assert.Equal(t, 50, f.Limit)
	assert.Equal(t, 10, f.Offset)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.True(t, f.To.After(*f.From))
}

func TestFilterFromQueryRequiresEvent(t *testing.T) {
	c, _ := newTestContext(t, "/v1/access/logs")
	_, err := filterFromQuery(c)
	assert.Error(t, err)
}

func TestTypeLabel(t *testing.T) {
	assert.Equal(t, "Entrada", typeLabel(model.AccessEntry))
	assert.Equal(t, "Saida", typeLabel(model.AccessExit))
	assert.Equal(t, "OTHER", typeLabel("OTHER"))
}
