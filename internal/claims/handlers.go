package claims

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/types"
)

// Handlers handles HTTP requests for the claims service
type Handlers struct {
	service  *Service
	validate *validator.Validate
	logger   *logger.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service:  service,
		validate: validator.New(),
		logger:   log,
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/claims", h.SubmitClaim).Methods("POST")
	router.HandleFunc("/claims", h.ListClaims).Methods("GET")
	router.HandleFunc("/claims/{claimID}", h.GetClaim).Methods("GET")
	router.HandleFunc("/claims/{claimID}/history", h.GetClaimHistory).Methods("GET")
	router.HandleFunc("/claims/{claimID}/review", h.ResolveReview).Methods("POST")
	router.HandleFunc("/claims/{claimID}/settle", h.DispatchSettlement).Methods("POST")
}

// SubmitClaim handles claim submission
func (h *Handlers) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	// Boundary validation: domain logic only ever sees a well-formed claim.
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, err.Error())
		return
	}

	claim, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to submit claim")
		h.writeClaimError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, claim)
}

// GetClaim handles claim retrieval by ID
func (h *Handlers) GetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	claim, err := h.service.Get(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles claim list queries (review worklists)
func (h *Handlers) ListClaims(w http.ResponseWriter, r *http.Request) {
	filters := &types.ClaimFilters{
		Status:     types.ClaimStatus(r.URL.Query().Get("status")),
		PatientRef: r.URL.Query().Get("patient_ref"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	claims, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}
	if claims == nil {
		claims = []*types.Claim{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

// GetClaimHistory handles claim audit trail retrieval
func (h *Handlers) GetClaimHistory(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	history, err := h.service.History(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}
	if history == nil {
		history = []*types.ClaimStatusChange{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// reviewRequest is the manual review resolution payload
type reviewRequest struct {
	Action string `json:"action" validate:"required,oneof=approve deny"`
	Detail string `json:"detail" validate:"max=1024"`
}

// ResolveReview handles manual review outcomes for pending claims
func (h *Handlers) ResolveReview(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, err.Error())
		return
	}

	claim, err := h.service.ResolveReview(r.Context(), claimID, req.Action == "approve", req.Detail)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, claim)
}

// DispatchSettlement triggers a manual settlement dispatch, used after a
// failed settlement or when automatic dispatch is disabled.
func (h *Handlers) DispatchSettlement(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	claim, err := h.service.Redispatch(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, claim)
}

// writeClaimError maps a structured claim error to an HTTP response
func (h *Handlers) writeClaimError(w http.ResponseWriter, err error) {
	var ce *types.ClaimError
	if !errors.As(err, &ce) {
		h.writeError(w, http.StatusInternalServerError, types.ErrCodeInternalError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch ce.Type {
	case types.ErrorTypeValidation, types.ErrorTypeTerminal:
		status = http.StatusUnprocessableEntity
	case types.ErrorTypeNotFound:
		status = http.StatusNotFound
	case types.ErrorTypeConflict:
		status = http.StatusConflict
	case types.ErrorTypeTransient:
		status = http.StatusServiceUnavailable
	}

	h.writeError(w, status, ce.Code, ce.Message)
}

// writeError writes a structured error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
