package api

import (
	"net/http"
	"strings"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

type awardXPRequest struct {
	Amount        int64                  `json:"amount"`
	Source        string                 `json:"source"`
	ReferenceType string                 `json:"reference_type,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// SettleSessionHandler settles a processed session synchronously.
func (h *Handlers) SettleSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	breakdown, err := h.service.Settlement.SettleSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// ProcessSessionHandler queues a completed session for scoring.
func (h *Handlers) ProcessSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Sessions.EnqueueSession(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id.String(), "status": "queued"})
}

func (h *Handlers) AwardXPHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req awardXPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "source is required", Code: domain.ErrValidation.Code})
		return
	}
	var ref *domain.Reference
	if req.ReferenceType != "" || req.ReferenceID != "" {
		if req.ReferenceType == "" || req.ReferenceID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "reference_type and reference_id go together", Code: domain.ErrValidation.Code})
			return
		}
		ref = &domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID}
	}
	award, err := h.service.Progression.AwardXP(r.Context(), userID, req.Amount, req.Source, ref, req.Metadata)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

func (h *Handlers) CheckAchievementHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	state, err := h.service.Achievements.CheckAchievement(r.Context(), userID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
