package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Calendars
	r.HandleFunc("/api/calendars", deps.CalendarHandler.ListCalendars).Methods("GET")
	r.HandleFunc("/api/calendars", deps.CalendarHandler.CreateCalendar).Methods("POST")
	r.HandleFunc("/api/calendars/{calendarId}", deps.CalendarHandler.UpdateCalendar).Methods("PUT")
	r.HandleFunc("/api/calendars/{calendarId}", deps.CalendarHandler.DeleteCalendar).Methods("DELETE")
	r.HandleFunc("/api/calendars/{calendarId}/visibility", deps.CalendarHandler.SetVisibility).Methods("PUT")
	r.HandleFunc("/api/calendars/{calendarId}/color", deps.CalendarHandler.SetColor).Methods("PUT")
	r.HandleFunc("/api/calendars/{calendarId}/copy", deps.CalendarMigratorHandler.CopyEvents).Methods("POST")

	// Events
	r.HandleFunc("/api/events", deps.EventHandler.ListEvents).Methods("GET")
	r.HandleFunc("/api/calendars/{calendarId}/events", deps.EventHandler.ListCalendarEvents).Methods("GET")
	r.HandleFunc("/api/calendars/{calendarId}/events", deps.EventHandler.CreateEvent).Methods("POST")
	r.HandleFunc("/api/calendars/{calendarId}/events/{uid}", deps.EventHandler.GetEvent).Methods("GET")
	r.HandleFunc("/api/calendars/{calendarId}/events/{uid}", deps.EventHandler.UpdateEvent).Methods("PUT")
	r.HandleFunc("/api/calendars/{calendarId}/events/{uid}", deps.EventHandler.DeleteEvent).Methods("DELETE")

	// Import / export and backups
	r.HandleFunc("/api/calendars/{calendarId}/import", deps.EventHandler.Import).Methods("POST")
	r.HandleFunc("/api/calendars/{calendarId}/import/revert", deps.EventHandler.RevertImport).Methods("POST")
	r.HandleFunc("/api/calendars/{calendarId}/export", deps.EventHandler.Export).Methods("GET")
	r.HandleFunc("/api/export", deps.EventHandler.ExportAll).Methods("GET")
	r.HandleFunc("/api/calendars/{calendarId}/backups", deps.EventHandler.ListBackups).Methods("GET")
	r.HandleFunc("/api/calendars/{calendarId}/backups/{backupId}/restore", deps.EventHandler.RestoreBackup).Methods("POST")

	// Sync
	r.HandleFunc("/api/calendars/{calendarId}/sync", deps.SyncHandler.SyncCalendar).Methods("POST")
	r.HandleFunc("/api/calendars/{calendarId}/sync/cancel", deps.SyncHandler.CancelSync).Methods("POST")
	r.HandleFunc("/api/sync", deps.SyncHandler.SyncAll).Methods("POST")
	r.HandleFunc("/api/sync/status", deps.SyncHandler.Statuses).Methods("GET")

	// View
	r.HandleFunc("/api/view", deps.ViewHandler.GetView).Methods("GET")

	// Commands
	r.HandleFunc("/api/commands", deps.CommandHandler.Submit).Methods("POST")
	r.HandleFunc("/api/messages", deps.CommandHandler.Messages).Methods("GET")

	// Accounts and settings
	r.HandleFunc("/api/accounts/{accountId}/discover", deps.CalendarMigratorHandler.Discover).Methods("POST")
	r.HandleFunc("/api/settings", deps.SettingsHandler.GetSettings).Methods("GET")
	r.HandleFunc("/api/settings", deps.SettingsHandler.UpdateSettings).Methods("PUT")

	// Google integration
	r.HandleFunc("/api/accounts/{accountId}/oauth/login", deps.GoogleAuth.OAuthLogin).Methods("GET")
	r.HandleFunc("/api/accounts/{accountId}/oauth/logout", deps.GoogleAuth.OAuthLogout).Methods("DELETE")
	r.HandleFunc("/api/integrations/google/auth/callback", deps.GoogleAuth.OAuthCallback).Methods("GET")
}
