package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/api/response"
	"github.com/Korner-san/bevisible/internal/store"
)

// NewListAccountsHandler returns an http.HandlerFunc for GET /api/v1/accounts.
func NewListAccountsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.ListAccounts(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list accounts", nil)
			return
		}
		response.JSON(w, accounts)
	}
}

// NewUpdateAccountHandler returns an http.HandlerFunc for
// PATCH /api/v1/accounts/{accountID}. This is how an operator puts an
// account flagged for an expired session back into rotation after fixing
// its credentials.
func NewUpdateAccountHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "accountID must be a valid UUID", nil)
			return
		}

		var req struct {
			Eligible *bool `json:"eligible"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Eligible == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "eligible is required", nil)
			return
		}

		if err := s.SetAccountEligible(r.Context(), id, *req.Eligible); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account does not exist", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update account", nil)
			return
		}

		account, err := s.GetAccount(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}
		response.JSON(w, account)
	}
}
