package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"smm-store/internal/domain"
	"smm-store/internal/pricing"
	"smm-store/internal/store"
)

// PaymentRequest is a user's declaration of a mobile-money transfer.
type PaymentRequest struct {
	Amount        string
	Method        string
	TransactionID string
}

// SubmitPayment records a pending payment. The balance is untouched until
// the payment is verified.
func (s *Service) SubmitPayment(ctx context.Context, userID string, req PaymentRequest) (domain.Payment, error) {
	amount := pricing.Parse(req.Amount)
	if !amount.IsPositive() {
		return domain.Payment{}, ErrInvalidAmount
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if !slices.Contains(domain.PaymentMethods, method) {
		return domain.Payment{}, ErrInvalidMethod
	}
	if _, ok := s.store.GetUser(ctx, userID); !ok {
		return domain.Payment{}, ErrUserNotFound
	}

	payment, err := s.store.AddPayment(ctx, domain.Payment{
		UserID:        userID,
		Amount:        pricing.Format(amount),
		Method:        method,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Status:        domain.PaymentPending,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("store payment: %w", err)
	}
	s.logger.Info("payment submitted", "payment_id", payment.ID, "user_id", userID, "amount", payment.Amount, "method", method)
	return payment, nil
}

// Payments lists the payments owned by userID.
func (s *Service) Payments(ctx context.Context, userID string) []domain.Payment {
	return s.store.Payments(ctx, userID)
}

// VerifyPayment completes a pending payment owned by userID and credits its
// amount. A payment can be completed once.
func (s *Service) VerifyPayment(ctx context.Context, userID, paymentID string) (domain.Payment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, ok := s.store.PaymentByID(ctx, paymentID)
	if !ok || existing.UserID != userID {
		return domain.Payment{}, ErrPaymentNotFound
	}

	payment, err := s.store.UpdatePayment(ctx, paymentID, func(p *domain.Payment) error {
		if p.Status == domain.PaymentCompleted {
			return ErrPaymentAlreadyCompleted
		}
		completedAt := s.now().UTC()
		p.Status = domain.PaymentCompleted
		p.CompletedAt = &completedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Payment{}, ErrPaymentNotFound
		}
		return domain.Payment{}, err
	}

	if _, err := s.adjust(ctx, userID, pricing.Parse(payment.Amount), "payment_credit"); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

// TopUp credits amount to the user with email, creating the user when none
// exists yet. It returns the updated user.
func (s *Service) TopUp(ctx context.Context, email, amount string) (domain.User, error) {
	credit := pricing.Parse(amount)
	if !credit.IsPositive() {
		return domain.User{}, ErrInvalidAmount
	}
	email = strings.TrimSpace(email)

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()
	return s.adjust(ctx, user.ID, credit, "admin_topup")
}

// userByEmail finds or creates the user owning email.
func (s *Service) userByEmail(ctx context.Context, email string) (domain.User, error) {
	unlock := s.locks.Lock("email:" + strings.ToLower(email))
	defer unlock()

	if u, ok := s.store.GetUserByEmail(ctx, email); ok {
		return u, nil
	}
	u, err := s.store.CreateUser(ctx, domain.User{Username: email, Email: email})
	if errors.Is(err, store.ErrConflict) {
		if existing, ok := s.store.GetUserByEmail(ctx, email); ok {
			return existing, nil
		}
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created for top-up", "user_id", u.ID, "email", email)
	return u, nil
}
