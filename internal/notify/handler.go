package notify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler exposes a dispatcher's queues over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	everyone   func() []uuid.UUID
}

// NewHandler creates a handler. everyone, when set, lists the recipients of
// an announcement that names no patrons.
func NewHandler(d *Dispatcher, everyone func() []uuid.UUID) *Handler {
	return &Handler{dispatcher: d, everyone: everyone}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/patrons/{id}/notifications", h.HandleList)
	r.Post("/notifications/{id}/read", h.HandleMarkRead)
	r.Post("/announcements", h.HandleAnnounce)
}

// HandleList returns a patron's notifications; ?unread=true limits it to
// the pending ones.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patron ID")
		return
	}
	if unread := r.URL.Query().Get("unread"); unread == "1" || strings.EqualFold(unread, "true") {
		writeJSON(w, http.StatusOK, h.dispatcher.PendingFor(id))
		return
	}
	writeJSON(w, http.StatusOK, h.dispatcher.AllFor(id))
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification ID")
		return
	}
	if err := h.dispatcher.MarkRead(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotificationNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatronIDs []uuid.UUID `json:"patron_ids"`
		Message   string      `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing message")
		return
	}
	patrons := req.PatronIDs
	if len(patrons) == 0 && h.everyone != nil {
		patrons = h.everyone()
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"recipients": h.dispatcher.Announce(patrons, req.Message)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
