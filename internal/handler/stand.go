package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
)

// StandHandler exposes the admin CRUD for stands within an event.
type StandHandler struct {
	Stands *repository.StandRepo
	Events *repository.EventRepo
}

func NewStandHandler(st *repository.StandRepo, ev *repository.EventRepo) *StandHandler {
	if st == nil || ev == nil {
		panic("nil repository passed to NewStandHandler")
	}
	return &StandHandler{Stands: st, Events: ev}
}

type standReq struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	MaxRegistrations uint32 `json:"max_registrations"`
}

type standResp struct {
	ID               uint64 `json:"id"`
	EventID          uint64 `json:"event_id"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	MaxRegistrations uint32 `json:"max_registrations"`
	CurrentCount     uint32 `json:"current_count"`
	AvailableSlots   int    `json:"available_slots"`
}

func toStandResp(st *model.Stand) standResp {
	return standResp{
		ID: st.ID, EventID: st.EventID, Code: st.Code, Name: st.Name,
		MaxRegistrations: st.MaxRegistrations, CurrentCount: st.CurrentCount,
		AvailableSlots: st.AvailableSlots(),
	}
}

// Create adds a stand to the event.
func (h *StandHandler) Create(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req standReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if strings.TrimSpace(req.Code) == "" || req.Name == "" || req.MaxRegistrations == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code, name and max_registrations required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// The event must exist before hanging stands off it.
	if _, err := h.Events.GetByID(ctx, eventID); err != nil {
		return writeDomainError(c, err)
	}

	st := &model.Stand{
		EventID:          eventID,
		Code:             req.Code,
		Name:             req.Name,
		MaxRegistrations: req.MaxRegistrations,
	}
	if err := h.Stands.Create(ctx, st); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toStandResp(st))
}

// List returns the event's stands with their remaining slots.
func (h *StandHandler) List(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sts, err := h.Stands.ListByEvent(ctx, eventID)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]standResp, 0, len(sts))
	for i := range sts {
		out = append(out, toStandResp(&sts[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"stands": out})
}

// Update changes name and capacity.  Shrinking below the current
// registration count is refused.
func (h *StandHandler) Update(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid stand id"})
	}
	var req standReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.MaxRegistrations == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and max_registrations required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Stands.Update(ctx, eventID, id, req.Name, req.MaxRegistrations); err != nil {
		if err == repository.ErrConflict {
			return c.JSON(http.StatusConflict, echo.Map{"error": "capacity below registered count"})
		}
		return writeDomainError(c, err)
	}
	st, err := h.Stands.GetByID(ctx, eventID, id)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toStandResp(st))
}

// Delete removes an empty stand.
func (h *StandHandler) Delete(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid stand id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Stands.Delete(ctx, eventID, id); err != nil {
		if err == repository.ErrConflict {
			return c.JSON(http.StatusConflict, echo.Map{"error": "stand still has participants"})
		}
		return writeDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
