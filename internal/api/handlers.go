/**
 * @description
 * This file contains the HTTP handlers for the earnings-service wallet
 * endpoints plus the response helpers every handler shares. Handlers parse
 * the request, call the application service and map typed domain errors to
 * status codes.
 *
 * @dependencies
 * - internal/app, internal/domain: Service logic and the error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/citypulse/earnings-service/internal/app"
	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger.With("component", "api")}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// GetWalletHandler returns the caller's balances.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	wallet, err := h.service.Ledger.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the caller's ledger, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := h.pagination(w, r)
	if !ok {
		return
	}
	opts := domain.TransactionListOptions{
		Currency: domain.Currency(r.URL.Query().Get("currency")),
		Type:     domain.TransactionType(r.URL.Query().Get("type")),
		Limit:    limit,
		Offset:   offset,
	}
	if opts.Currency != "" && !opts.Currency.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "currency must be cash or credits", Code: domain.ErrValidation.Code})
		return
	}
	txs, err := h.service.Ledger.ListTransactions(r.Context(), userID, opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Could not identify user from token"})
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + param, Code: domain.ErrValidation.Code})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := defaultPageSize, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Code: domain.ErrValidation.Code})
			return 0, 0, false
		}
		limit = min(v, maxPageSize)
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "offset must be a non-negative integer", Code: domain.ErrValidation.Code})
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body", Code: domain.ErrValidation.Code})
		return false
	}
	return true
}

// writeServiceError maps a service error to a status and a JSON body.
// Unclassified errors are logged and reported as internal.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: domain.ErrInternal.Message, Code: domain.ErrInternal.Code})
		return
	}
	status := StatusForKind(de.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", de.Code, "err", err)
	}
	writeJSON(w, status, errorBody{Error: de.Message, Code: de.Code})
}

// StatusForKind is the HTTP status for an error kind.
func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInsufficient:
		return http.StatusUnprocessableEntity
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
