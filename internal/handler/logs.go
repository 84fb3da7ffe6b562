package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rmartins/event-access-control/internal/model"
	"github.com/rmartins/event-access-control/internal/repository"
)

// LogsHandler serves ledger listings and the CSV export.
type LogsHandler struct {
	Logs *repository.AccessLogRepo
}

func NewLogsHandler(l *repository.AccessLogRepo) *LogsHandler {
	if l == nil {
		panic("nil repository passed to NewLogsHandler")
	}
	return &LogsHandler{Logs: l}
}

// filterFromQuery builds a LogFilter from the request query string.
func filterFromQuery(c echo.Context) (repository.LogFilter, error) {
	eventID, err := strconv.ParseUint(c.QueryParam("eventId"), 10, 64)
	if err != nil || eventID == 0 {
		return repository.LogFilter{}, fmt.Errorf("eventId required")
	}
	f := repository.LogFilter{
		EventID:       eventID,
		ParticipantID: strings.TrimSpace(c.QueryParam("participantId")),
		Type:          strings.ToUpper(strings.TrimSpace(c.QueryParam("type"))),
		Gate:          strings.TrimSpace(c.QueryParam("gate")),
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid from timestamp")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid to timestamp")
		}
		f.To = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}
	return f, nil
}

type logItem struct {
	ID              uint64    `json:"id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	ParticipantCPF  string    `json:"participant_cpf"`
	StandCode       string    `json:"stand_code,omitempty"`
	Type            string    `json:"type"`
	Gate            string    `json:"gate,omitempty"`
	Operator        string    `json:"operator,omitempty"`
	Method          string    `json:"verification_method"`
	Forced          bool      `json:"forced,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// List returns ledger rows newest first with pagination info.
// ?format=csv switches to the CSV download.
func (h *LogsHandler) List(c echo.Context) error {
	if strings.EqualFold(c.QueryParam("format"), "csv") {
		return h.ExportCSV(c)
	}
	f, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	rows, total, err := h.Logs.List(ctx, f)
	if err != nil {
		return writeDomainError(c, err)
	}

	items := make([]logItem, 0, len(rows))
	for i := range rows {
		lw := &rows[i]
		items = append(items, logItem{
			ID:              lw.ID,
			ParticipantID:   lw.ParticipantID,
			ParticipantName: lw.ParticipantName,
			ParticipantCPF:  lw.ParticipantCPF,
			StandCode:       lw.StandCode,
			Type:            lw.Type,
			Gate:            lw.Gate,
			Operator:        lw.OperatorName,
			Method:          lw.VerificationMethod,
			Forced:          lw.Forced,
			Notes:           lw.Notes,
			CreatedAt:       lw.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"logs":   items,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// typeLabel renders the movement type for spreadsheets.
func typeLabel(t string) string {
	switch t {
	case model.AccessEntry:
		return "Entrada"
	case model.AccessExit:
		return "Saida"
	}
	return t
}

// ExportCSV streams the filtered ledger as a CSV download.  The file
// starts with a UTF-8 BOM so Excel opens accented names correctly.
func (h *LogsHandler) ExportCSV(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if f.Limit <= 0 {
		f.Limit = 1000
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	rows, _, err := h.Logs.List(ctx, f)
	if err != nil {
		return writeDomainError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="acessos-%d.csv"`, f.EventID))
	res.WriteHeader(http.StatusOK)

	if _, err := res.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	w := csv.NewWriter(res)
	if err := w.Write([]string{"Data/Hora", "Tipo", "Nome", "CPF", "Stand", "Portao", "Operador", "Metodo", "Forcado", "Observacoes"}); err != nil {
		return err
	}
	for i := range rows {
		lw := &rows[i]
		forced := ""
		if lw.Forced {
			forced = "SIM"
		}
		rec := []string{
			lw.CreatedAt.Format("02/01/2006 15:04:05"),
			typeLabel(lw.Type),
			lw.ParticipantName,
			lw.ParticipantCPF,
			lw.StandCode,
			lw.Gate,
			lw.OperatorName,
			lw.VerificationMethod,
			forced,
			lw.Notes,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
