package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/rest"
)

type SyncDTO struct {
	Interval       string          `json:"interval"`
	RequestTimeout string          `json:"requestTimeout"`
	RetryInitial   string          `json:"retryInitial"`
	MaxBackoff     string          `json:"maxBackoff"`
	Parallel       int             `json:"parallel"`
	Calendars      map[string]bool `json:"calendars,omitempty"`
}

type ViewDTO struct {
	CacheSize int    `json:"cacheSize"`
	Timezone  string `json:"timezone"`
	WeekStart string `json:"weekStart"`
}

type AccountDTO struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
	Auth       string `json:"auth,omitempty"`
}

// SettingsDTO is the runtime-editable part of the configuration. Durations use
// Go duration syntax ("15m", "30s").
type SettingsDTO struct {
	Sync     SyncDTO               `json:"sync"`
	View     ViewDTO               `json:"view"`
	Accounts map[string]AccountDTO `json:"accounts"`
}

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, settingsToDTO(h.store.Get()))
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var dto SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	sync, err := dto.Sync.toSync()
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid sync settings", err.Error())
		return
	}

	updated, err := h.store.Update(r.Context(), func(app *Application) error {
		app.Sync = sync
		app.View = View{CacheSize: dto.View.CacheSize, Timezone: dto.View.Timezone, WeekStart: dto.View.WeekStart}
		app.Accounts = make(map[string]Account, len(dto.Accounts))
		for id, acc := range dto.Accounts {
			app.Accounts[id] = Account{URL: acc.URL, Username: acc.Username, Credential: acc.Credential, Auth: AuthKind(acc.Auth)}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			rest.WriteError(w, http.StatusBadRequest, "Invalid settings", err.Error())
			return
		}
		log.Errorf("failed to update settings: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to update settings", err.Error())
		return
	}
	rest.WriteJSON(w, http.StatusOK, settingsToDTO(updated))
}

func (s SyncDTO) toSync() (Sync, error) {
	var (
		result Sync
		err    error
	)
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"interval", s.Interval, &result.Interval},
		{"requestTimeout", s.RequestTimeout, &result.RequestTimeout},
		{"retryInitial", s.RetryInitial, &result.RetryInitial},
		{"maxBackoff", s.MaxBackoff, &result.MaxBackoff},
	}
	for _, f := range fields {
		if *f.dst, err = time.ParseDuration(f.value); err != nil {
			return Sync{}, fmt.Errorf("%s: %v", f.name, err)
		}
	}
	result.Parallel = s.Parallel
	result.Calendars = s.Calendars
	return result, nil
}

func settingsToDTO(app Application) SettingsDTO {
	dto := SettingsDTO{
		Sync: SyncDTO{
			Interval:       app.Sync.Interval.String(),
			RequestTimeout: app.Sync.RequestTimeout.String(),
			RetryInitial:   app.Sync.RetryInitial.String(),
			MaxBackoff:     app.Sync.MaxBackoff.String(),
			Parallel:       app.Sync.Parallel,
			Calendars:      app.Sync.Calendars,
		},
		View: ViewDTO{
			CacheSize: app.View.CacheSize,
			Timezone:  app.View.Timezone,
			WeekStart: app.View.WeekStart,
		},
		Accounts: make(map[string]AccountDTO, len(app.Accounts)),
	}
	for id, acc := range app.Accounts {
		dto.Accounts[id] = AccountDTO{URL: acc.URL, Username: acc.Username, Credential: acc.Credential, Auth: string(acc.Auth)}
	}
	return dto
}
