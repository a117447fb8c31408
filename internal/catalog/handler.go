// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleAddItem)
	r.Get("/search", h.HandleSearch)
	r.Get("/{id}", h.HandleGetItem)
}

// entryView adds the computed reading time to an entry.
type entryView struct {
	*Entry
	ReadingMinutes int `json:"reading_minutes"`
}

func view(e *Entry) entryView {
	return entryView{Entry: e, ReadingMinutes: ReadingTime(*e)}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries := h.service.List(r.Context())
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, view(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing search query")
		return
	}

	items, err := h.service.Search(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]entryView, 0, len(items))
	for _, e := range items {
		out = append(out, view(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req NewEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.AddItem(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidISBN) || errors.Is(err, ErrMissingTitle) || errors.Is(err, ErrUnknownFormat) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, view(item))
}

func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view(item))
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
