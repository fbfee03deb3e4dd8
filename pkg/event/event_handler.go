package event

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/rest"
	"github.com/solcal/solcal/pkg/calendar"
)

const (
	dateLayout     = "2006-01-02"
	maxImportBytes = 16 << 20
)

type EventDTO struct {
	UID          string   `json:"uid"`
	CalendarID   string   `json:"calendarId"`
	Summary      string   `json:"summary"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Timezone     string   `json:"timezone,omitempty"`
	AllDay       bool     `json:"allDay"`
	RRule        string   `json:"rrule,omitempty"`
	ExDates      []string `json:"exdates,omitempty"`
	ETag         string   `json:"etag,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
	Pending      bool     `json:"pending"`
}

type ImportResultDTO struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	UIDs     []string `json:"uids"`
}

type RevertImportRequest struct {
	UIDs []string `json:"uids"`
}

type BackupDTO struct {
	ID        int64  `json:"id"`
	UID       string `json:"uid"`
	ETag      string `json:"etag,omitempty"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"createdAt"`
}

type EventHandler struct {
	eventService EventService
}

func NewEventHandler(eventService EventService) *EventHandler {
	return &EventHandler{eventService}
}

func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	events, err := h.eventService.ListEvents(r.Context(), from, to)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventsToDTOs(events))
}

func (h *EventHandler) ListCalendarEvents(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	events, err := h.eventService.ListCalendarEvents(r.Context(), mux.Vars(r)["calendarId"], from, to)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventsToDTOs(events))
}

func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	event, err := h.eventService.GetEvent(r.Context(), vars["calendarId"], vars["uid"])
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(event))
}

func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	event.CalendarID = mux.Vars(r)["calendarId"]
	log.Debugf("New event request for calendar %s", event.CalendarID)

	created, err := h.eventService.CreateEvent(r.Context(), event)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, eventToDTO(created))
}

func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := decodeEvent(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	event.CalendarID, event.UID = vars["calendarId"], vars["uid"]

	updated, err := h.eventService.UpdateEvent(r.Context(), event)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(updated))
}

func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.eventService.DeleteEvent(r.Context(), vars["calendarId"], vars["uid"]); err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import takes the iCalendar file as the raw request body.
func (h *EventHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	result, err := h.eventService.Import(r.Context(), mux.Vars(r)["calendarId"], string(body))
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ImportResultDTO{Imported: result.Imported, Skipped: result.Skipped, UIDs: result.UIDs})
}

func (h *EventHandler) RevertImport(w http.ResponseWriter, r *http.Request) {
	var request RevertImportRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	removed, err := h.eventService.RevertImport(r.Context(), mux.Vars(r)["calendarId"], request.UIDs)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *EventHandler) Export(w http.ResponseWriter, r *http.Request) {
	calendarID := mux.Vars(r)["calendarId"]
	text, err := h.eventService.Export(r.Context(), calendarID)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	writeCalendarFile(w, calendarID+".ics", text)
}

func (h *EventHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	text, err := h.eventService.ExportAll(r.Context())
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	writeCalendarFile(w, "calendars.ics", text)
}

func (h *EventHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.eventService.ListBackups(r.Context(), mux.Vars(r)["calendarId"])
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	dtos := make([]BackupDTO, 0, len(backups))
	for _, b := range backups {
		dtos = append(dtos, BackupDTO{ID: b.ID, UID: b.UID, ETag: b.ETag, Reason: b.Reason, CreatedAt: b.CreatedAt.Format(time.RFC3339)})
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

func (h *EventHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	backupID, err := strconv.ParseInt(vars["backupId"], 10, 64)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid backup id", "")
		return
	}
	event, err := h.eventService.RestoreBackup(r.Context(), vars["calendarId"], backupID)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(event))
}

func writeCalendarFile(w http.ResponseWriter, filename string, text string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, text); err != nil {
		log.Errorf("failed to write calendar file: %v", err)
	}
}

func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, ok := rest.ParseTimeParam(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := rest.ParseTimeParam(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func decodeEvent(w http.ResponseWriter, r *http.Request) (calendar.Event, bool) {
	var dto EventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return calendar.Event{}, false
	}
	event, err := dtoToEvent(dto)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return calendar.Event{}, false
	}
	return event, true
}

func eventsToDTOs(events []calendar.Event) []EventDTO {
	dtos := make([]EventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, eventToDTO(e))
	}
	return dtos
}

func eventToDTO(e calendar.Event) EventDTO {
	dto := EventDTO{
		UID:         e.UID,
		CalendarID:  e.CalendarID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       formatEventTime(e.Start, e.AllDay),
		End:         formatEventTime(e.End, e.AllDay),
		Timezone:    e.TZID,
		AllDay:      e.AllDay,
		RRule:       e.RRule,
		ETag:        e.ETag,
		Pending:     e.Pending,
	}
	if !e.LastModified.IsZero() {
		dto.LastModified = e.LastModified.Format(time.RFC3339)
	}
	for _, ex := range e.ExDates {
		dto.ExDates = append(dto.ExDates, formatEventTime(ex, e.AllDay))
	}
	return dto
}

func formatEventTime(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}

func dtoToEvent(dto EventDTO) (calendar.Event, error) {
	loc := time.UTC
	if dto.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(dto.Timezone); err != nil {
			return calendar.Event{}, fmt.Errorf("%w: unknown timezone %q", calendar.ErrValidation, dto.Timezone)
		}
	}
	start, err := parseEventTime(dto.Start, dto.AllDay, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("%w: start: %v", calendar.ErrValidation, err)
	}
	end, err := parseEventTime(dto.End, dto.AllDay, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("%w: end: %v", calendar.ErrValidation, err)
	}
	event := calendar.Event{
		UID:         dto.UID,
		Summary:     dto.Summary,
		Description: dto.Description,
		Location:    dto.Location,
		Start:       start,
		End:         end,
		AllDay:      dto.AllDay,
		RRule:       dto.RRule,
	}
	if !dto.AllDay {
		event.TZID = dto.Timezone
	}
	for _, value := range dto.ExDates {
		ex, err := parseEventTime(value, dto.AllDay, loc)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("%w: exdate: %v", calendar.ErrValidation, err)
		}
		event.ExDates = append(event.ExDates, ex)
	}
	return event, nil
}

// parseEventTime accepts RFC3339 timestamps and, for all-day events, plain
// dates or local midnights. All-day values are kept as UTC midnight.
func parseEventTime(value string, allDay bool, loc *time.Location) (time.Time, error) {
	if allDay {
		if d, err := time.Parse(dateLayout, value); err == nil {
			return d, nil
		}
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			// left as is for validation to reject
			return t, nil
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
