package calendar_provider

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/solcal/solcal/internal/rest"
	"github.com/solcal/solcal/pkg/calendar"
)

type CopyResultDTO struct {
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type CollectionDTO struct {
	Href        string `json:"href"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type MigratorHandler struct {
	migrator *Migrator
	provider *Provider
}

func NewMigratorHandler(migrator *Migrator, provider *Provider) *MigratorHandler {
	return &MigratorHandler{migrator: migrator, provider: provider}
}

// CopyEvents handles POST /api/calendars/{calendarId}/copy?target=&from=&to=
func (h *MigratorHandler) CopyEvents(w http.ResponseWriter, r *http.Request) {
	from, ok := rest.ParseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := rest.ParseTimeParam(w, r, "to")
	if !ok {
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		rest.WriteError(w, http.StatusBadRequest, "Missing target calendar", "'target' is required")
		return
	}

	result, err := h.migrator.CopyEvents(r.Context(), mux.Vars(r)["calendarId"], target, from, to)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, CopyResultDTO{Copied: result.Copied, Skipped: result.Skipped, Failed: result.Failed})
}

// Discover handles POST /api/accounts/{accountId}/discover
func (h *MigratorHandler) Discover(w http.ResponseWriter, r *http.Request) {
	collections, err := h.provider.Discover(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	dtos := make([]CollectionDTO, 0, len(collections))
	for _, c := range collections {
		dtos = append(dtos, CollectionDTO{Href: c.Href, Name: c.Name, Description: c.Description})
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}
