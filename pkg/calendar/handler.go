package calendar

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/rest"
)

type Handler struct {
	calendars *Service
}

type CalendarDTO struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Color           string    `json:"color"`
	Kind            string    `json:"kind"`
	Visible         bool      `json:"visible"`
	SyncIntervalSec int       `json:"syncIntervalSec"`
	RemoteURL       string    `json:"remoteUrl,omitempty"`
	AccountID       string    `json:"accountId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type CalendarUpdateDTO struct {
	Name            *string `json:"name"`
	Color           *string `json:"color"`
	Visible         *bool   `json:"visible"`
	SyncIntervalSec *int    `json:"syncIntervalSec"`
}

func NewHandler(s *Service) *Handler {
	return &Handler{s}
}

// WriteServiceError reports a service error using the taxonomy status mapping.
func WriteServiceError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	rest.WriteError(w, status, http.StatusText(status), err.Error())
}

func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	calendars, err := h.calendars.ListCalendars(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	dtos := make([]CalendarDTO, 0, len(calendars))
	for _, c := range calendars {
		dtos = append(dtos, calendarToDTO(c))
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCalendar(w http.ResponseWriter, r *http.Request) {
	var dto CalendarDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid calendar payload", err.Error())
		return
	}
	if dto.Kind == "" {
		dto.Kind = string(KindLocal)
	}
	created, err := h.calendars.CreateCalendar(r.Context(), dtoToCalendar(dto))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, calendarToDTO(created))
}

func (h *Handler) UpdateCalendar(w http.ResponseWriter, r *http.Request) {
	var dto CalendarUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid calendar payload", err.Error())
		return
	}
	updated, err := h.calendars.UpdateCalendar(r.Context(), mux.Vars(r)["calendarId"], CalendarUpdate{
		Name:         dto.Name,
		Color:        dto.Color,
		Visible:      dto.Visible,
		SyncInterval: dto.SyncIntervalSec,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, calendarToDTO(updated))
}

func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid visibility payload", err.Error())
		return
	}
	calendarId := mux.Vars(r)["calendarId"]
	var updated Calendar
	var err error
	if body.Visible == nil {
		updated, err = h.calendars.ToggleVisibility(r.Context(), calendarId)
	} else {
		updated, err = h.calendars.SetVisibility(r.Context(), calendarId, *body.Visible)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, calendarToDTO(updated))
}

func (h *Handler) SetColor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid color payload", err.Error())
		return
	}
	updated, err := h.calendars.SetColor(r.Context(), mux.Vars(r)["calendarId"], body.Color)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, calendarToDTO(updated))
}

func (h *Handler) DeleteCalendar(w http.ResponseWriter, r *http.Request) {
	if err := h.calendars.DeleteCalendar(r.Context(), mux.Vars(r)["calendarId"]); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func calendarToDTO(c Calendar) CalendarDTO {
	return CalendarDTO{
		ID:              c.ID,
		Name:            c.Name,
		Color:           c.Color,
		Kind:            string(c.Kind),
		Visible:         c.Visible,
		SyncIntervalSec: int(c.SyncInterval / time.Second),
		RemoteURL:       c.RemoteURL,
		AccountID:       c.AccountID,
		CreatedAt:       c.CreatedAt,
	}
}

func dtoToCalendar(dto CalendarDTO) Calendar {
	return Calendar{
		ID:           dto.ID,
		Name:         dto.Name,
		Color:        dto.Color,
		Kind:         SourceKind(dto.Kind),
		Visible:      dto.Visible,
		SyncInterval: secondsToDuration(dto.SyncIntervalSec),
		RemoteURL:    dto.RemoteURL,
		AccountID:    dto.AccountID,
	}
}
