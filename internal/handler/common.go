package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rmartins/event-access-control/internal/repository"
	"github.com/rmartins/event-access-control/internal/service"
)

// getUserID extracts the user_id from echo.Context and converts it to uint64
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// operatorName returns the display name stored by the JWT middleware,
// falling back to the user id so ledger rows always carry an operator.
func operatorName(c echo.Context) string {
	if v, ok := c.Get("operator_name").(string); ok && v != "" {
		return v
	}
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	if v, ok := c.Get("user_id").(float64); ok {
		return strconv.FormatUint(uint64(v), 10)
	}
	return ""
}

// pathUint parses a numeric path parameter.
func pathUint(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

// writeDomainError translates repository and service sentinels into
// JSON error responses.  Unknown errors become 500 without leaking
// internals.
func writeDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrStandNotFound),
		errors.Is(err, repository.ErrParticipantNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "capacity exceeded"})
	case errors.Is(err, repository.ErrNotApproved):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "participant not approved"})
	case errors.Is(err, repository.ErrAlreadyInside):
		return c.JSON(http.StatusConflict, echo.Map{"error": "participant already inside"})
	case errors.Is(err, repository.ErrNotInside):
		return c.JSON(http.StatusConflict, echo.Map{"error": "participant not inside"})
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	case errors.Is(err, repository.ErrConcurrencyConflict):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "busy, try again"})
	case errors.Is(err, service.ErrInvalidCPF), errors.Is(err, service.ErrMissingName):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
