// Package ledger holds every operation that moves money: order placement,
// admin top-ups and payment verification. It also drives catalog refreshes
// and order status refreshes against the upstream panel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smm-store/internal/domain"
	"smm-store/internal/metrics"
	"smm-store/internal/pricing"
	"smm-store/internal/provider"
	"smm-store/internal/store"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Errors returned by ledger operations.
var (
	ErrServiceNotFound         = errors.New("service not found")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrUserNotFound            = errors.New("user not found")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentAlreadyCompleted = errors.New("payment already completed")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidMethod           = errors.New("unsupported payment method")
)

// Provider is the subset of the panel client the ledger depends on.
type Provider interface {
	Services(ctx context.Context) ([]provider.Service, error)
	AddOrder(ctx context.Context, req provider.AddOrderRequest) (*provider.AddOrderResponse, error)
	OrderStatus(ctx context.Context, orderID int64) (*provider.StatusResponse, error)
	Balance(ctx context.Context) (*provider.BalanceResponse, error)
}

// CatalogCache stores the last good upstream catalog. *cache.Redis
// satisfies it, including as a nil pointer.
type CatalogCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

type noCache struct{}

func (noCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (noCache) GetJSON(context.Context, string, any) (bool, error)        { return false, nil }

// Options tune a Service.
type Options struct {
	CatalogTTL time.Duration
	Now        func() time.Time
}

// Service wires the store to the upstream panel.
type Service struct {
	store      *store.Store
	provider   Provider
	cache      CatalogCache
	catalogTTL time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	refreshes singleflight.Group
	locks     keyedMutex
}

// New constructs a ledger service. cache may be nil.
func New(st *store.Store, p Provider, cache CatalogCache, opts Options, logger *slog.Logger, m *metrics.Metrics) *Service {
	ttl := opts.CatalogTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		store:      st,
		provider:   p,
		cache:      cache,
		catalogTTL: ttl,
		logger:     logger.With("component", "ledger"),
		metrics:    m,
		now:        now,
	}
}

// adjust applies delta to a user's balance, clamping at zero. Callers hold
// the user's lock.
func (s *Service) adjust(ctx context.Context, userID string, delta decimal.Decimal, kind string) (domain.User, error) {
	var before string
	updated, err := s.store.UpdateUser(ctx, userID, func(u *domain.User) error {
		before = u.Balance
		next := pricing.Parse(u.Balance).Add(delta)
		if next.IsNegative() {
			next = decimal.Zero
		}
		u.Balance = pricing.Format(next)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("update balance: %w", err)
	}
	s.logger.Info("balance changed",
		"user_id", userID,
		"kind", kind,
		"delta", pricing.Format(delta),
		"before", before,
		"after", updated.Balance,
	)
	if s.metrics != nil {
		s.metrics.LedgerMutations.WithLabelValues(kind).Inc()
	}
	return updated, nil
}

// Balance returns the stored balance for userID.
func (s *Service) Balance(ctx context.Context, userID string) (string, error) {
	u, ok := s.store.GetUser(ctx, userID)
	if !ok {
		return "", ErrUserNotFound
	}
	return u.Balance, nil
}

// ProviderBalance proxies the reseller balance held at the panel.
func (s *Service) ProviderBalance(ctx context.Context) (*provider.BalanceResponse, error) {
	res, err := s.provider.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch provider balance: %w", err)
	}
	return res, nil
}
