package api

import (
	"net/http"

	"github.com/citypulse/earnings-service/internal/domain"
)

// RequestWithdrawalHandler reserves cash and queues a payout.
func (h *Handlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.WithdrawalRequest
	if !h.decode(w, r, &req) {
		return
	}
	withdrawal, err := h.service.Withdrawals.RequestWithdrawal(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, withdrawal)
}

// ListWithdrawalsHandler returns the caller's withdrawals, newest first.
func (h *Handlers) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := h.pagination(w, r)
	if !ok {
		return
	}
	withdrawals, err := h.service.Withdrawals.ListWithdrawals(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": withdrawals, "limit": limit, "offset": offset})
}

// GetWithdrawalHandler returns one of the caller's withdrawals.
func (h *Handlers) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	withdrawal, err := h.service.Withdrawals.GetWithdrawal(r.Context(), userID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

func (h *Handlers) ListPayoutMethodsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	methods, err := h.service.PayoutMethods.ListPayoutMethods(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payout_methods": methods})
}

func (h *Handlers) AddPayoutMethodHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req domain.AddPayoutMethodRequest
	if !h.decode(w, r, &req) {
		return
	}
	method, err := h.service.PayoutMethods.AddPayoutMethod(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

func (h *Handlers) SetDefaultPayoutMethodHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.PayoutMethods.SetDefaultPayoutMethod(r.Context(), userID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemovePayoutMethodHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.PayoutMethods.RemovePayoutMethod(r.Context(), userID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
