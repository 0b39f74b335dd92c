package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"smm-store/internal/auth"
	"smm-store/internal/domain"
	"smm-store/internal/ledger"
	"smm-store/internal/pricing"
	"smm-store/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Admin verified",
		"user":    map[string]string{"email": id.Email},
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": s.deps.Store.AllUsers(r.Context())})
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"orders": s.deps.Store.AllOrders(r.Context())})
}

func (s *Server) handleAdminTopUp(w http.ResponseWriter, r *http.Request) {
	var payload topUpPayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount := pricing.Format(payload.Amount)
	user, err := s.deps.Ledger.TopUp(r.Context(), payload.Email, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "Email and positive amount are required")
			return
		}
		s.logger.Error("admin top-up failed", "email", payload.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to top up")
		return
	}
	admin, _ := auth.IdentityFromContext(r.Context())
	s.logger.Info("admin top-up", "admin", admin.Email, "email", payload.Email, "amount", amount, "balance", user.Balance)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"email":   payload.Email,
		"balance": user.Balance,
		"message": fmt.Sprintf("Successfully added ৳%s to %s", amount, payload.Email),
	})
}

func (s *Server) handleAdminServices(w http.ResponseWriter, r *http.Request) {
	s.deps.Ledger.SeedCatalogIfEmpty(r.Context())
	writeJSON(w, http.StatusOK, s.deps.Store.EffectiveServices(r.Context()))
}

func (s *Server) handleAdminUpdateService(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || serviceID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid service ID")
		return
	}
	var payload serviceUpdatePayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.updateService(r, serviceID, payload)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Service not found")
			return
		}
		s.logger.Error("admin service update failed", "service_id", serviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update service")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"service": updated,
		"message": "Service price updated to ৳" + updated.Rate,
	})
}

type bulkResult struct {
	ID      int64           `json:"id"`
	Success bool            `json:"success"`
	Service *domain.Service `json:"service,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleAdminBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var payload bulkUpdatePayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := make([]bulkResult, 0, len(payload.Services))
	succeeded := 0
	for _, entry := range payload.Services {
		if entry.ID <= 0 || entry.Rate == nil {
			continue
		}
		updated, err := s.updateService(r, entry.ID, entry.serviceUpdatePayload)
		if err != nil {
			msg := "Failed to update service"
			if errors.Is(err, store.ErrNotFound) {
				msg = "Service not found"
			}
			results = append(results, bulkResult{ID: entry.ID, Error: msg})
			continue
		}
		succeeded++
		results = append(results, bulkResult{ID: entry.ID, Success: true, Service: &updated})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Updated %d services", succeeded),
		"results": results,
	})
}

func (s *Server) updateService(r *http.Request, id int64, payload serviceUpdatePayload) (domain.Service, error) {
	patch := store.ServicePatch{
		Min:         payload.Min,
		Max:         payload.Max,
		Description: payload.Description,
	}
	if payload.Rate != nil {
		rate := pricing.Format(*payload.Rate)
		patch.Rate = &rate
	}
	updated, err := s.deps.Store.UpdateService(r.Context(), id, patch)
	if err != nil {
		return domain.Service{}, err
	}
	admin, _ := auth.IdentityFromContext(r.Context())
	s.logger.Info("service updated", "admin", admin.Email, "service_id", id, "rate", updated.Rate)
	return updated, nil
}

func (s *Server) handleAdminProviderBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.deps.Ledger.ProviderBalance(r.Context())
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}
