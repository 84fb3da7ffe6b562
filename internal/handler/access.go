package handler

import (
	"context"
	"errors"
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

// AccessHandler exposes the gate-facing endpoints: check-in,
// check-out, fast-pass and the participant status lookup.
type AccessHandler struct {
	Admission    *service.AdmissionService
	Events       *repository.EventRepo
	Participants *repository.ParticipantRepo
	Logs         *repository.AccessLogRepo
}

func NewAccessHandler(adm *service.AdmissionService, ev *repository.EventRepo,
	p *repository.ParticipantRepo, l *repository.AccessLogRepo) *AccessHandler {
	if adm == nil || ev == nil || p == nil || l == nil {
		panic("nil dependency passed to NewAccessHandler")
	}
	return &AccessHandler{Admission: adm, Events: ev, Participants: p, Logs: l}
}

// ----- DTOs -----

type checkInReq struct {
	ParticipantID       string `json:"participantId"`
	EventID             uint64 `json:"eventId"`
	Gate                string `json:"gate"`
	OperatorName        string `json:"operatorName"`
	VerificationMethod  string `json:"verificationMethod"`
	RequirePreviousExit *bool  `json:"requirePreviousExit"` // default true
	ForceEntry          bool   `json:"forceEntry"`
	IdempotencyKey      string `json:"idempotencyKey"`
	Notes               string `json:"notes"`
}

type checkOutReq struct {
	ParticipantID      string `json:"participantId"`
	EventID            uint64 `json:"eventId"`
	Gate               string `json:"gate"`
	OperatorName       string `json:"operatorName"`
	VerificationMethod string `json:"verificationMethod"`
	ForceExit          bool   `json:"forceExit"`
	IdempotencyKey     string `json:"idempotencyKey"`
	Notes              string `json:"notes"`
}

type fastPassReq struct {
	Code           string `json:"code"`
	EventID        uint64 `json:"eventId"`
	Gate           string `json:"gate"`
	OperatorName   string `json:"operatorName"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type accessLogPart struct {
	ID        uint64    `json:"id"`
	Type      string    `json:"type"`
	Gate      string    `json:"gate,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type participantPart struct {
	ID             string `json:"id"`
	ShortID        string `json:"short_id"`
	Name           string `json:"name"`
	ApprovalStatus string `json:"approval_status"`
}

type accessResp struct {
	Log             accessLogPart   `json:"log"`
	Participant     participantPart `json:"participant"`
	InsideCount     int64           `json:"inside_count"`
	Replayed        bool            `json:"replayed,omitempty"`
	DurationMinutes *int64          `json:"duration_minutes,omitempty"`
	Duration        string          `json:"duration,omitempty"`
}

func toAccessResp(res *service.AccessResult) accessResp {
	out := accessResp{
		Log: accessLogPart{
			ID:        res.Log.ID,
			Type:      res.Log.Type,
			Gate:      res.Log.Gate,
			Operator:  res.Log.OperatorName,
			Forced:    res.Log.Forced,
			Notes:     res.Log.Notes,
			CreatedAt: res.Log.CreatedAt,
		},
		Participant: participantPart{
			ID:             res.Participant.ID,
			ShortID:        res.Participant.ShortID,
			Name:           res.Participant.Name,
			ApprovalStatus: res.Participant.ApprovalStatus,
		},
		InsideCount: res.InsideCount,
		Replayed:    res.Replayed,
	}
	if res.Log.Type == model.AccessExit && res.DurationLabel != "" {
		d := res.DurationMinutes
		out.DurationMinutes = &d
		out.Duration = res.DurationLabel
	}
	return out
}

// loadEvent fetches the event and rejects access against closed ones.
func (h *AccessHandler) loadEvent(ctx context.Context, id uint64) (*model.Event, error) {
	ev, err := h.Events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status == model.EventStatusClosed {
		return nil, repository.ErrEventNotFound
	}
	return ev, nil
}

// CheckIn records an ENTRY on the ledger.
func (h *AccessHandler) CheckIn(c echo.Context) error {
	var req checkInReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.ParticipantID) == "" || req.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "participantId and eventId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ev, err := h.loadEvent(ctx, req.EventID)
	if err != nil {
		return writeDomainError(c, err)
	}

	requireExit := true
	if req.RequirePreviousExit != nil {
		requireExit = *req.RequirePreviousExit
	}
	op := req.OperatorName
	if op == "" {
		op = operatorName(c)
	}

	res, err := h.Admission.CheckIn(ctx, service.CheckInRequest{
		EventID:             ev.ID,
		EventCode:           ev.Code,
		ParticipantRef:      strings.TrimSpace(req.ParticipantID),
		Gate:                strings.TrimSpace(req.Gate),
		OperatorName:        op,
		DeviceIP:            c.RealIP(),
		VerificationMethod:  req.VerificationMethod,
		RequirePreviousExit: requireExit,
		ForceEntry:          req.ForceEntry,
		Notes:               req.Notes,
		IdempotencyKey:      strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	if res.Replayed {
		return c.JSON(http.StatusOK, toAccessResp(res))
	}
	return c.JSON(http.StatusCreated, toAccessResp(res))
}

// CheckOut records an EXIT on the ledger and reports the stay duration.
func (h *AccessHandler) CheckOut(c echo.Context) error {
	var req checkOutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.ParticipantID) == "" || req.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "participantId and eventId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ev, err := h.loadEvent(ctx, req.EventID)
	if err != nil {
		return writeDomainError(c, err)
	}
	op := req.OperatorName
	if op == "" {
		op = operatorName(c)
	}

	res, err := h.Admission.CheckOut(ctx, service.CheckOutRequest{
		EventID:            ev.ID,
		EventCode:          ev.Code,
		ParticipantRef:     strings.TrimSpace(req.ParticipantID),
		Gate:               strings.TrimSpace(req.Gate),
		OperatorName:       op,
		DeviceIP:           c.RealIP(),
		VerificationMethod: req.VerificationMethod,
		ForceExit:          req.ForceExit,
		Notes:              req.Notes,
		IdempotencyKey:     strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	if res.Replayed {
		return c.JSON(http.StatusOK, toAccessResp(res))
	}
	return c.JSON(http.StatusCreated, toAccessResp(res))
}

// FastPass resolves a raw scan and auto-selects the direction from
// the participant's current presence.  A payload claiming a different
// event is rejected before touching the ledger.
func (h *AccessHandler) FastPass(c echo.Context) error {
	var req fastPassReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Code) == "" || req.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and eventId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ev, err := h.loadEvent(ctx, req.EventID)
	if err != nil {
		return writeDomainError(c, err)
	}

	resolved, err := qrcode.ResolveForEvent(req.Code, ev.Code)
	if err != nil {
		if errors.Is(err, qrcode.ErrEventMismatch) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "code belongs to another event"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable code"})
	}

	res, err := h.Admission.FastPass(ctx, service.CheckInRequest{
		EventID:            ev.ID,
		EventCode:          ev.Code,
		ParticipantRef:     resolved.ParticipantRef,
		Gate:               strings.TrimSpace(req.Gate),
		OperatorName:       firstNonEmpty(req.OperatorName, operatorName(c)),
		DeviceIP:           c.RealIP(),
		VerificationMethod: model.VerificationQRCode,
		IdempotencyKey:     strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	if res.Replayed {
		return c.JSON(http.StatusOK, toAccessResp(res))
	}
	return c.JSON(http.StatusCreated, toAccessResp(res))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Status returns the participant summary, derived presence state and
// entry/exit totals.  The :id segment accepts a full UUID, a short ID
// or bare CPF digits; ?eventId= selects the event.
func (h *AccessHandler) Status(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("id"))
	eventID, err := strconv.ParseUint(c.QueryParam("eventId"), 10, 64)
	if err != nil || eventID == 0 || ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id and eventId required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	p, err := h.Participants.FindByRef(ctx, eventID, ref)
	if err != nil {
		return writeDomainError(c, err)
	}
	last, err := h.Logs.Last(ctx, eventID, p.ID)
	if err != nil {
		return writeDomainError(c, err)
	}
	entries, exits, err := h.Logs.CountsForParticipant(ctx, eventID, p.ID)
	if err != nil {
		return writeDomainError(c, err)
	}
	recent, _, err := h.Logs.List(ctx, repository.LogFilter{
		EventID: eventID, ParticipantID: p.ID, Limit: 10,
	})
	if err != nil {
		return writeDomainError(c, err)
	}

	history := make([]accessLogPart, 0, len(recent))
	for i := range recent {
		lw := &recent[i]
		history = append(history, accessLogPart{
			ID: lw.ID, Type: lw.Type, Gate: lw.Gate, Operator: lw.OperatorName,
			Forced: lw.Forced, Notes: lw.Notes, CreatedAt: lw.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"participant": echo.Map{
			"id":              p.ID,
			"short_id":        p.ShortID,
			"name":            p.Name,
			"approval_status": p.ApprovalStatus,
			"stand_id":        p.StandID,
		},
		"presence":      model.PresenceFromLast(last),
		"total_entries": entries,
		"total_exits":   exits,
		"history":       history,
	})
}
