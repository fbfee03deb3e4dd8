package command

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/internal/rest"
	"github.com/solcal/solcal/pkg/calendar"
)

type submittedDTO struct {
	ID string `json:"id"`
}

type Handler struct {
	bus *Bus
	hub *Hub
}

func NewHandler(bus *Bus, hub *Hub) *Handler {
	return &Handler{bus: bus, hub: hub}
}

// Submit queues a command and answers with its id; the outcome is streamed by Messages.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	id, _, err := h.bus.Send(req)
	if err != nil {
		calendar.WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusAccepted, submittedDTO{ID: id})
}

// Messages streams hub messages as server-sent events until the client goes away.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		rest.WriteError(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}
	messages, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-messages:
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Errorf("Failed to encode %s message: %v", msg.Kind, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
