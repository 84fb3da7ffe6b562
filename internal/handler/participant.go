package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/qrcode"
	"github.com/rmartins/event-access-control/internal/repository"
	"github.com/rmartins/event-access-control/internal/service"
)

// ParticipantHandler covers public registration and the admin
// participant operations.
type ParticipantHandler struct {
	Registration *service.RegistrationService
	Events       *repository.EventRepo
	Stands       *repository.StandRepo
	Participants *repository.ParticipantRepo
}

func NewParticipantHandler(reg *service.RegistrationService, ev *repository.EventRepo,
	st *repository.StandRepo, p *repository.ParticipantRepo) *ParticipantHandler {
	if reg == nil || ev == nil || st == nil || p == nil {
		panic("nil dependency passed to NewParticipantHandler")
	}
	return &ParticipantHandler{Registration: reg, Events: ev, Stands: st, Participants: p}
}

type registerParticipantReq struct {
	Name      string `json:"name"`
	CPF       string `json:"cpf"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	StandCode string `json:"stand_code"`
}

type participantResp struct {
	ID             string  `json:"id"`
	ShortID        string  `json:"short_id"`
	EventID        uint64  `json:"event_id"`
	StandID        *uint64 `json:"stand_id,omitempty"`
	Name           string  `json:"name"`
	CPF            string  `json:"cpf"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	ApprovalStatus string  `json:"approval_status"`
	QRPayload      string  `json:"qr_payload,omitempty"`
}

func toParticipantResp(p *model.Participant, eventCode, standCode string) participantResp {
	out := participantResp{
		ID:             p.ID,
		ShortID:        p.ShortID,
		EventID:        p.EventID,
		StandID:        p.StandID,
		Name:           p.Name,
		CPF:            p.CPF,
		Email:          p.Email,
		Phone:          p.Phone,
		ApprovalStatus: p.ApprovalStatus,
	}
	if eventCode != "" {
		out.QRPayload = qrcode.CompactPayload(p.ShortID, p.CPF, eventCode, standCode, p.Name)
	}
	return out
}

// Register handles public self-registration for an active event.  The
// event slot, optional stand slot and participant row are committed
// atomically; a full event or stand answers 409 with nothing written.
func (h *ParticipantHandler) Register(c echo.Context) error {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event slug required"})
	}
	var req registerParticipantReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ev, err := h.Events.GetBySlug(ctx, slug)
	if err != nil {
		return writeDomainError(c, err)
	}
	if ev.Status != model.EventStatusActive {
		return c.JSON(http.StatusConflict, echo.Map{"error": "event not open for registration"})
	}

	var standID *uint64
	standCode := strings.TrimSpace(req.StandCode)
	if standCode != "" {
		st, err := h.Stands.GetByCode(ctx, ev.ID, standCode)
		if err != nil {
			return writeDomainError(c, err)
		}
		standID = &st.ID
		standCode = st.Code
	}

	p, err := h.Registration.Register(ctx, service.RegisterRequest{
		EventID:   ev.ID,
		EventCode: ev.Code,
		StandID:   standID,
		Name:      req.Name,
		CPF:       req.CPF,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, toParticipantResp(p, ev.Code, standCode))
}

// List returns the event's participants (admin).
func (h *ParticipantHandler) List(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ps, err := h.Participants.ListByEvent(ctx, eventID, limit, offset)
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]participantResp, 0, len(ps))
	for i := range ps {
		out = append(out, toParticipantResp(&ps[i], "", ""))
	}
	return c.JSON(http.StatusOK, echo.Map{"participants": out})
}

type approvalReq struct {
	Status string `json:"status"` // pending | approved | rejected
}

// SetApproval updates the approval status (admin).
func (h *ParticipantHandler) SetApproval(c echo.Context) error {
	eventID, err := pathUint(c, "eventId")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	id := strings.TrimSpace(c.Param("id"))
	var req approvalReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch status {
	case model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Participants.SetApprovalStatus(ctx, eventID, id, status); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "approval_status": status})
}

// Delete soft-deletes a participant and releases the event and stand
// slots in the same transaction (admin).
func (h *ParticipantHandler) Delete(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	eventID, err := strconv.ParseUint(c.QueryParam("eventId"), 10, 64)
	if err != nil || eventID == 0 || id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id and eventId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if _, err := h.Registration.Unregister(ctx, eventID, id); err != nil {
		return writeDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
