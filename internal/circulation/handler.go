// internal/circulation/handler.go
package circulation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"circdesk/internal/clock"
)

type Handler struct {
	service Service
	clock   clock.Clock
}

func NewHandler(service Service, clk clock.Clock) *Handler {
	return &Handler{service: service, clock: clk}
}

// Routes mounts the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.HandleBorrow)
	r.Get("/loans", h.HandleListLoans)
	r.Get("/loans/overdue", h.HandleOverdue)
	r.Get("/loans/{id}", h.HandleGetLoan)
	r.Get("/loans/{id}/fee", h.HandleLoanFee)
	r.Post("/loans/{id}/renew", h.HandleRenew)
	r.Post("/returns", h.HandleReturn)

	r.Post("/reservations", h.HandleReserve)
	r.Post("/reservations/cancel", h.HandleCancelReservation)

	r.Post("/items", h.HandleRegisterItem)
	r.Get("/items/{id}", h.HandleGetItem)
	r.Put("/items/{id}/status", h.HandleSetStatus)

	r.Get("/patrons/{id}/account", h.HandleAccount)
	r.Get("/patrons/{id}/loans", h.HandlePatronLoans)

	r.Get("/stats/borrow-counts", h.HandleBorrowCounts)
	r.Get("/stats/top-borrowed", h.HandleTopBorrowed)
	r.Get("/ledger", h.HandleLedger)
	r.Get("/audit", h.HandleAudit)
	r.Post("/sweep", h.HandleSweep)
}

type patronItemRequest struct {
	PatronID uuid.UUID `json:"patron_id"`
	ItemID   uuid.UUID `json:"item_id"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req patronItemRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := h.service.Borrow(r.Context(), req.PatronID, req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req patronItemRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := h.service.Return(r.Context(), req.PatronID, req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Days int `json:"days"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.Days == 0 {
		req.Days = h.service.Policy().RenewalDays
	}
	loan, err := h.service.Renew(r.Context(), id, req.Days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.OpenLoans())
}

func (h *Handler) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.OverdueLoans(asOf))
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loan, err := h.service.Loan(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleLoanFee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	fee, err := h.service.LateFeeFor(id, asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loan_id":     id,
		"as_of":       asOf.Format(time.DateOnly),
		"fee_cents":   int64(fee),
		"fee_display": fee.String(),
	})
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var req patronItemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.Reserve(r.Context(), req.PatronID, req.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	item, err := h.service.Item(req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"item_id":   req.ItemID,
		"patron_id": req.PatronID,
		"position":  item.Queue.Position(req.PatronID) + 1,
		"status":    item.Status,
	})
}

func (h *Handler) HandleCancelReservation(w http.ResponseWriter, r *http.Request) {
	var req patronItemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.CancelReservation(r.Context(), req.PatronID, req.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRegisterItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID uuid.UUID `json:"item_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	item, err := h.service.RegisterItem(r.Context(), req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Item(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, ok := ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(req.Status))
		return
	}
	item, err := h.service.SetStatus(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acct, err := h.service.Account(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) HandlePatronLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.LoansFor(id))
}

func (h *Handler) HandleBorrowCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.BorrowCounts())
}

func (h *Handler) HandleTopBorrowed(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, h.service.TopBorrowed(n))
}

func (h *Handler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Ledger())
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	violations := h.service.Audit()
	status := http.StatusOK
	if len(violations) > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]interface{}{"violations": violations})
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Sweep(r.Context()))
}

// asOf reads the optional as_of query parameter, defaulting to now.
func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return h.clock.Now(), true
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD or RFC 3339")
	return time.Time{}, false
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch KindOf(err) {
	case KindValidation:
		writeJSON(w, http.StatusConflict, errorBody(err, KindValidation.String()))
	case KindNotFound:
		writeJSON(w, http.StatusNotFound, errorBody(err, KindNotFound.String()))
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func errorBody(err error, kind string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    kind,
		},
	}
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
