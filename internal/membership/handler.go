// internal/membership/handler.go
package membership

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"circdesk/internal/policy"
)

type Handler struct {
	service    Service
	restricted bool
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RestrictToAdmins requires an admin token to register members with another
// class or role, to change a member's class, role or standing, and to edit
// someone else's favourite genres. Without it the handler trusts every caller.
func (h *Handler) RestrictToAdmins() *Handler {
	h.restricted = true
	return h
}

func (h *Handler) isAdmin(r *http.Request) bool {
	return !h.restricted || IsAdmin(r.Context())
}

func (h *Handler) isSelf(r *http.Request, id uuid.UUID) bool {
	c, ok := ClaimsFromContext(r.Context())
	return ok && c.MemberID == id
}

// Routes mounts the member endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleRegister)
	r.Get("/{id}", h.HandleGetMember)
	r.Patch("/{id}", h.HandleUpdate)
}

// HandleLogin exchanges email and password for a token. It is mounted
// outside the authenticated group.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, member, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":  token,
		"member": member,
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req NewMember
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	elevated := (req.Class != "" && !strings.EqualFold(string(req.Class), string(policy.Standard))) ||
		(req.Role != "" && !strings.EqualFold(string(req.Role), string(RoleMember)))
	if elevated && !h.isAdmin(r) {
		writeServiceError(w, fmt.Errorf("%w: only an admin can register members with a class or role", ErrForbidden))
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListMembers(r.Context()))
}

func (h *Handler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// HandleUpdate applies whichever of class, role, active and favorite_genres
// the body carries. Nothing is applied unless the caller may make every
// requested change.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	var req struct {
		Class          *policy.Class `json:"class"`
		Role           *Role         `json:"role"`
		Active         *bool         `json:"active"`
		FavoriteGenres []string      `json:"favorite_genres"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Class != nil || req.Role != nil || req.Active != nil) && !h.isAdmin(r) {
		writeServiceError(w, fmt.Errorf("%w: only an admin can change class, role or standing", ErrForbidden))
		return
	}
	if req.FavoriteGenres != nil && !h.isSelf(r, id) && !h.isAdmin(r) {
		writeServiceError(w, fmt.Errorf("%w: members can only edit their own genres", ErrForbidden))
		return
	}

	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Class != nil {
		if member, err = h.service.SetClass(r.Context(), id, *req.Class); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Role != nil {
		if member, err = h.service.SetRole(r.Context(), id, *req.Role); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Active != nil {
		if member, err = h.service.SetActive(r.Context(), id, *req.Active); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.FavoriteGenres != nil {
		if member, err = h.service.SetFavoriteGenres(r.Context(), id, req.FavoriteGenres); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, member)
}

func memberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid member ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrMemberNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrAccountLocked):
		status = http.StatusLocked
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrMissingName), errors.Is(err, ErrWeakPassword),
		errors.Is(err, policy.ErrUnknownClass), errors.Is(err, ErrUnknownRole):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err.Error())
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
