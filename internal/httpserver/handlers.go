package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"smm-store/internal/auth"
	"smm-store/internal/domain"
	"smm-store/internal/ledger"
	"smm-store/internal/pricing"
	"smm-store/internal/provider"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Ledger.RefreshCatalog(r.Context())
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, provider.ErrMissingAPIKey):
		s.logger.Error("catalog refresh impossible", "error", err)
		writeError(w, http.StatusInternalServerError, "SMM panel API key is not configured")
	case errors.As(err, &apiErr):
		s.logger.Warn("catalog refresh rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "SMM panel API error: "+apiErr.Message+". Please check your API key.")
	case errors.Is(err, provider.ErrInvalidCredential):
		s.logger.Warn("catalog refresh rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "SMM panel API error: invalid API key")
	case errors.Is(err, provider.ErrUnexpectedResponse):
		s.logger.Error("catalog refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Invalid response from SMM panel API")
	default:
		s.logger.Error("catalog refresh failed", "error", err)
		s.countError("provider")
		writeError(w, http.StatusInternalServerError, "Failed to connect to SMM panel API")
	}
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}
	status, err := s.deps.Ledger.RefreshOrderStatus(r.Context(), orderID)
	if err != nil {
		var apiErr *provider.APIError
		switch {
		case errors.Is(err, provider.ErrMissingAPIKey):
			writeError(w, http.StatusInternalServerError, "SMM panel API key is not configured")
		case errors.As(err, &apiErr):
			writeError(w, http.StatusNotFound, apiErr.Message)
		default:
			s.logger.Error("order status failed", "order_id", orderID, "error", err)
			s.countError("provider")
			writeError(w, http.StatusInternalServerError, "Failed to check order status")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(status.Raw)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUserSync(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	var payload syncPayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.FirebaseUID != "" && payload.FirebaseUID != id.UID {
		writeError(w, http.StatusForbidden, "firebase_uid does not match the caller")
		return
	}
	user, err := s.deps.Provisioner.Sync(r.Context(), id, auth.SyncRequest{
		Email:       payload.Email,
		DisplayName: payload.DisplayName,
	})
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "Email already in use")
			return
		}
		s.logger.Error("user sync failed", "uid", id.UID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to sync user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var payload orderPayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.deps.Ledger.PlaceOrder(r.Context(), user.ID, ledger.OrderRequest{
		ServiceID: payload.Service,
		Link:      payload.Link,
		Quantity:  payload.Quantity,
	})
	if err != nil {
		var apiErr *provider.APIError
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, "Insufficient balance")
		case errors.Is(err, ledger.ErrServiceNotFound):
			writeError(w, http.StatusBadRequest, "Service not found")
		case errors.Is(err, ledger.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, provider.ErrMissingAPIKey):
			s.logger.Error("order impossible", "error", err)
			writeError(w, http.StatusInternalServerError, "SMM panel API key is not configured")
		case errors.As(err, &apiErr):
			writeError(w, http.StatusBadRequest, apiErr.Message)
		case errors.Is(err, provider.ErrNoOrderID):
			writeError(w, http.StatusBadRequest, "Failed to place order")
		default:
			s.logger.Error("order failed", "user_id", user.ID, "error", err)
			s.countError("order")
			writeError(w, http.StatusInternalServerError, "Failed to place order")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": order.ID,
		"charge":  order.Charge,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	balance, err := s.deps.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ledger.Orders(r.Context(), user.ID))
}

func (s *Server) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var payload paymentPayload
	if err := s.decodeAndValidate(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payment, err := s.deps.Ledger.SubmitPayment(r.Context(), user.ID, ledger.PaymentRequest{
		Amount:        pricing.Format(payload.Amount),
		Method:        payload.Method,
		TransactionID: payload.TransactionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidMethod):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			s.logger.Error("payment submission failed", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to add payment")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"paymentId": payment.ID,
		"status":    payment.Status,
	})
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ledger.Payments(r.Context(), user.ID))
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "paymentId")
	payment, err := s.deps.Ledger.VerifyPayment(r.Context(), user.ID, paymentID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, ledger.ErrPaymentAlreadyCompleted):
			writeError(w, http.StatusConflict, "Payment already completed")
		default:
			s.logger.Error("payment verification failed", "payment_id", paymentID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to verify payment")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"paymentId": payment.ID,
		"status":    payment.Status,
	})
}

// currentUser returns the user placed on the context by authenticate,
// re-read so balances are current.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	cached, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return domain.User{}, false
	}
	user, ok := s.deps.Store.GetUser(r.Context(), cached.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return domain.User{}, false
	}
	return user, true
}
