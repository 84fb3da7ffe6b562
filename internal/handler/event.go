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

// EventHandler exposes the admin CRUD for events.
type EventHandler struct {
	Events *repository.EventRepo
}

func NewEventHandler(ev *repository.EventRepo) *EventHandler {
	if ev == nil {
		panic("nil repository passed to NewEventHandler")
	}
	return &EventHandler{Events: ev}
}

type eventReq struct {
	Code        string     `json:"code"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	MaxCapacity uint32     `json:"max_capacity"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

type eventResp struct {
	ID           uint64     `json:"id"`
	Code         string     `json:"code"`
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	MaxCapacity  uint32     `json:"max_capacity"`
	CurrentCount uint32     `json:"current_count"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}

func toEventResp(ev *model.Event) eventResp {
	return eventResp{
		ID: ev.ID, Code: ev.Code, Slug: ev.Slug, Name: ev.Name,
		Status: ev.Status, MaxCapacity: ev.MaxCapacity, CurrentCount: ev.CurrentCount,
		StartsAt: ev.StartsAt, EndsAt: ev.EndsAt,
	}
}

func validEventStatus(s string) bool {
	switch s {
	case model.EventStatusDraft, model.EventStatusActive, model.EventStatusClosed:
		return true
	}
	return false
}

// Create inserts a new event.
func (h *EventHandler) Create(c echo.Context) error {
	var req eventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Slug) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code, slug and name required"})
	}
	if req.Status == "" {
		req.Status = model.EventStatusDraft
	}
	if !validEventStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev := &model.Event{
		Code:        req.Code,
		Slug:        req.Slug,
		Name:        req.Name,
		Status:      req.Status,
		MaxCapacity: req.MaxCapacity,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	}
	if err := h.Events.Create(ctx, ev); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toEventResp(ev))
}

// List returns all events.
func (h *EventHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	evs, err := h.Events.List(ctx)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]eventResp, 0, len(evs))
	for i := range evs {
		out = append(out, toEventResp(&evs[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"events": out})
}

// Get fetches one event by id, slug or code.
func (h *EventHandler) Get(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("id"))
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event reference required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ev, err := h.Events.GetByRef(ctx, ref)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}

// Update changes name, status and capacity.  Shrinking the capacity
// below the registered count is refused.
func (h *EventHandler) Update(c echo.Context) error {
	id, err := pathUint(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var req eventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !validEventStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and valid status required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Events.Update(ctx, id, req.Name, req.Status, req.MaxCapacity); err != nil {
		if err == repository.ErrConflict {
			return c.JSON(http.StatusConflict, echo.Map{"error": "capacity below registered count"})
		}
		return writeDomainError(c, err)
	}
	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toEventResp(ev))
}
