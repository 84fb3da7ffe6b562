package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rmartins/event-access-control/internal/service"
)

// StatsHandler serves the occupancy statistics views.
type StatsHandler struct {
	Stats *service.StatsService
}

func NewStatsHandler(s *service.StatsService) *StatsHandler {
	if s == nil {
		panic("nil service passed to NewStatsHandler")
	}
	return &StatsHandler{Stats: s}
}

// Get returns the full statistics view for one event.
func (h *StatsHandler) Get(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil || eventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	view, err := h.Stats.View(ctx, eventID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Reconcile recomputes every event's rollup from the ledger on
// demand.  The same pass also runs on a timer; this endpoint exists
// for admins who want the correction immediately.
func (h *StatsHandler) Reconcile(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	out, err := h.Stats.ReconcileAll(ctx)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reconciled": out})
}
