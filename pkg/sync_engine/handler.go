package sync_engine

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/rest"
	"github.com/solcal/solcal/pkg/calendar"
)

type SyncStateDTO struct {
	CalendarID string `json:"calendarId"`
	Status     string `json:"status"`
	LastSync   string `json:"lastSync,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	Failures   int    `json:"failures"`
	Halted     bool   `json:"halted"`
	NextRetry  string `json:"nextRetry,omitempty"`
}

type ResultDTO struct {
	CalendarID string `json:"calendarId"`
	Unchanged  bool   `json:"unchanged"`
	Fetched    int    `json:"fetched"`
	Pushed     int    `json:"pushed"`
	Removed    int    `json:"removed"`
	Conflicts  int    `json:"conflicts"`
	Skipped    int    `json:"skipped"`
}

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) SyncCalendar(w http.ResponseWriter, r *http.Request) {
	calendarID := mux.Vars(r)["calendarId"]
	log.Debugf("Manual sync requested for %s", calendarID)
	result, err := h.engine.Trigger(r.Context(), calendarID)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, resultToDTO(result))
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SyncAll(r.Context()); err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	h.Statuses(w, r)
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Cancel(mux.Vars(r)["calendarId"]) {
		rest.WriteError(w, http.StatusNotFound, "No sync running", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Statuses(w http.ResponseWriter, r *http.Request) {
	states, err := h.engine.Statuses(r.Context())
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	dtos := make([]SyncStateDTO, 0, len(states))
	for _, s := range states {
		dtos = append(dtos, stateToDTO(s))
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

func stateToDTO(s calendar.SyncState) SyncStateDTO {
	dto := SyncStateDTO{
		CalendarID: s.CalendarID,
		Status:     string(s.Status),
		LastError:  s.LastError,
		Failures:   s.Failures,
		Halted:     s.Halted,
	}
	if !s.LastSync.IsZero() {
		dto.LastSync = s.LastSync.Format(time.RFC3339)
	}
	if !s.NextRetry.IsZero() {
		dto.NextRetry = s.NextRetry.Format(time.RFC3339)
	}
	return dto
}

func resultToDTO(r Result) ResultDTO {
	return ResultDTO{
		CalendarID: r.CalendarID,
		Unchanged:  r.Unchanged,
		Fetched:    r.Fetched,
		Pushed:     r.Pushed,
		Removed:    r.Removed,
		Conflicts:  r.Conflicts,
		Skipped:    r.Skipped,
	}
}
