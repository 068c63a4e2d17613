package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"voicechat/internal/http/middleware"
	"voicechat/internal/repository"
	"voicechat/internal/service"
)

// CreditsHandler serves the credits ledger API: GET returns the balance with
// recent transactions, POST purchases credits, PATCH debits usage.
type CreditsHandler struct {
	credits *service.CreditsService
}

// NewCreditsHandler builds CreditsHandler.
func NewCreditsHandler(credits *service.CreditsService) *CreditsHandler {
	return &CreditsHandler{credits: credits}
}

type ledgerRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (h *CreditsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getBalance(w, r, userID)
	case http.MethodPost:
		h.credit(w, r, userID)
	case http.MethodPatch:
		h.debit(w, r, userID)
	default:
		w.Header().Set("Allow", "GET, POST, PATCH")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *CreditsHandler) getBalance(w http.ResponseWriter, r *http.Request, userID int64) {
	stmt, err := h.credits.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch credits")
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (h *CreditsHandler) credit(w http.ResponseWriter, r *http.Request, userID int64) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	update, err := h.credits.Credit(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "amount must be a positive integer")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add credits")
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (h *CreditsHandler) debit(w http.ResponseWriter, r *http.Request, userID int64) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	update, err := h.credits.Debit(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		var insufficient *repository.InsufficientBalanceError
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		case errors.Is(err, repository.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "no credit account for user")
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "insufficient balance",
				"balance": insufficient.Balance,
			})
		default:
			writeError(w, http.StatusInternalServerError, "failed to debit credits")
		}
		return
	}
	writeJSON(w, http.StatusOK, update)
}
