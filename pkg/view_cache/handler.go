package view_cache

import (
	"net/http"
	"time"

	"github.com/solcal/solcal/internal/rest"
	"github.com/solcal/solcal/pkg/calendar"
)

type OccurrenceDTO struct {
	CalendarID string `json:"calendarId"`
	UID        string `json:"uid"`
	Summary    string `json:"summary"`
	Location   string `json:"location,omitempty"`
	Color      string `json:"color"`
	Start      string `json:"start"`
	End        string `json:"end"`
	AllDay     bool   `json:"allDay"`
	Pending    bool   `json:"pending"`
	Column     int    `json:"column"`
	Columns    int    `json:"columns"`
}

type DayDTO struct {
	Date   string          `json:"date"`
	AllDay []OccurrenceDTO `json:"allDay"`
	Timed  []OccurrenceDTO `json:"timed"`
}

type LayoutDTO struct {
	Granularity string   `json:"granularity"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Days        []DayDTO `json:"days"`
	Truncated   bool     `json:"truncated"`
}

type Handler struct {
	cache *Cache
}

func NewHandler(cache *Cache) *Handler {
	return &Handler{cache: cache}
}

// GetView serves /api/view?granularity=week&date=2026-03-02. date defaults to today.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	g, err := ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	anchor := time.Now()
	if value := r.URL.Query().Get("date"); value != "" {
		anchor, err = parseAnchor(value, h.cache)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid date format", "'date' must be YYYY-MM-DD or RFC3339")
			return
		}
	}

	layout, err := h.cache.GetOrCompute(r.Context(), g, anchor)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, layoutToDTO(layout))
}

// parseAnchor reads plain dates in the display zone.
func parseAnchor(value string, cache *Cache) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	loc, err := cache.settings.Get().View.Location()
	if err != nil {
		loc = time.Local
	}
	return time.ParseInLocation(time.DateOnly, value, loc)
}

func layoutToDTO(layout Layout) LayoutDTO {
	dto := LayoutDTO{
		Granularity: string(layout.Granularity),
		From:        layout.Range.From.Format(time.RFC3339),
		To:          layout.Range.To.Format(time.RFC3339),
		Days:        make([]DayDTO, 0, len(layout.Days)),
		Truncated:   layout.Truncated,
	}
	for _, day := range layout.Days {
		dto.Days = append(dto.Days, DayDTO{
			Date:   day.Date.Format(time.DateOnly),
			AllDay: occurrencesToDTOs(day.AllDay),
			Timed:  occurrencesToDTOs(day.Timed),
		})
	}
	return dto
}

func occurrencesToDTOs(occs []Occurrence) []OccurrenceDTO {
	dtos := make([]OccurrenceDTO, 0, len(occs))
	for _, o := range occs {
		dto := OccurrenceDTO{
			CalendarID: o.CalendarID,
			UID:        o.UID,
			Summary:    o.Summary,
			Location:   o.Location,
			Color:      o.Color,
			Start:      o.Start.Format(time.RFC3339),
			End:        o.End.Format(time.RFC3339),
			AllDay:     o.AllDay,
			Pending:    o.Pending,
			Column:     o.Column,
			Columns:    o.Columns,
		}
		if o.AllDay {
			dto.Start, dto.End = o.Start.Format(time.DateOnly), o.End.Format(time.DateOnly)
		}
		dtos = append(dtos, dto)
	}
	return dtos
}
