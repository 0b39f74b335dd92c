package ledger

import (
	"context"
	"fmt"

	"smm-store/internal/domain"
	"smm-store/internal/pricing"
	"smm-store/internal/provider"
)

// OrderRequest is a customer's order for one catalog service.
type OrderRequest struct {
	ServiceID int64
	Link      string
	Quantity  int64
}

// PlaceOrder charges userID the effective rate times quantity. The balance is
// checked first, the order is forwarded upstream, and only an acknowledged
// order is stored and debited. The user's lock is held throughout so two
// orders cannot both pass the balance check.
func (s *Service) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (domain.Order, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, ok := s.store.GetUser(ctx, userID)
	if !ok {
		return domain.Order{}, ErrUserNotFound
	}
	svc, ok := s.store.EffectiveServiceByID(ctx, req.ServiceID)
	if !ok {
		s.countOrder("service_not_found")
		return domain.Order{}, ErrServiceNotFound
	}

	charge := pricing.Charge(svc.Rate, req.Quantity)
	if charge.GreaterThan(pricing.Parse(user.Balance)) {
		s.countOrder("insufficient_balance")
		return domain.Order{}, ErrInsufficientBalance
	}

	ack, err := s.provider.AddOrder(ctx, provider.AddOrderRequest{
		Service:  req.ServiceID,
		Link:     req.Link,
		Quantity: req.Quantity,
	})
	if err != nil {
		s.countOrder("upstream_error")
		return domain.Order{}, fmt.Errorf("submit order: %w", err)
	}

	remains := req.Quantity
	order, err := s.store.AddOrder(ctx, domain.Order{
		ID:        ack.OrderID,
		UserID:    &userID,
		Service:   req.ServiceID,
		Link:      req.Link,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusPending,
		Charge:    pricing.Format(charge),
		Remains:   &remains,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("order acknowledged upstream but not stored", "order_id", ack.OrderID, "user_id", userID, "error", err)
		s.countOrder("store_error")
		return domain.Order{}, fmt.Errorf("store order: %w", err)
	}

	if _, err := s.adjust(ctx, userID, charge.Neg(), "order_debit"); err != nil {
		return domain.Order{}, err
	}
	s.countOrder("placed")
	s.logger.Info("order placed",
		"order_id", order.ID,
		"user_id", userID,
		"service", req.ServiceID,
		"quantity", req.Quantity,
		"charge", order.Charge,
		"upstream_charge", ack.Charge,
	)
	return order, nil
}

// Orders lists the orders owned by userID.
func (s *Service) Orders(ctx context.Context, userID string) []domain.Order {
	return s.store.Orders(ctx, userID)
}

// RefreshOrderStatus asks the panel for the order's state and records the
// progress fields on the stored order, when one exists.
func (s *Service) RefreshOrderStatus(ctx context.Context, orderID int64) (*provider.StatusResponse, error) {
	status, err := s.provider.OrderStatus(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order status: %w", err)
	}
	if _, ok := s.store.OrderByID(ctx, orderID); !ok {
		return status, nil
	}
	_, err = s.store.UpdateOrderProgress(ctx, orderID, domain.OrderProgress{
		Status:     status.Status,
		StartCount: status.StartCount,
		Remains:    status.Remains,
	})
	if err != nil {
		s.logger.Warn("order progress not recorded", "order_id", orderID, "error", err)
	}
	return status, nil
}

func (s *Service) countOrder(outcome string) {
	if s.metrics != nil {
		s.metrics.OrdersPlaced.WithLabelValues(outcome).Inc()
	}
}
