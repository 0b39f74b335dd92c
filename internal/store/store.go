// Package store keeps users, catalog, orders, payments and admin overrides in
// memory and mirrors every mutation to a document backend. Memory is the
// source of truth: a failed save is logged and counted, never returned.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"smm-store/internal/domain"
	"smm-store/internal/metrics"
	"smm-store/internal/pricing"
	"smm-store/internal/repo"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by mutators addressing a record that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a new record collides with a unique field.
	ErrConflict = errors.New("record already exists")
)

// Store is the process-wide record store. Construct one with New and share it.
type Store struct {
	backend repo.Backend
	logger  *slog.Logger
	metrics *metrics.Metrics

	initOnce sync.Once
	mu       sync.RWMutex

	users       []domain.User
	services    []domain.Service
	orders      []domain.Order
	payments    []domain.Payment
	customRates map[int64]string
	overrides   map[int64]domain.FieldOverride
}

// New returns a store over backend. Nothing is read until first use.
func New(backend repo.Backend, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		backend:     backend,
		logger:      logger.With("component", "store"),
		metrics:     m,
		customRates: map[int64]string{},
		overrides:   map[int64]domain.FieldOverride{},
	}
}

// Init loads every document once. Later calls are no-ops; every accessor
// calls it implicitly.
func (s *Store) Init(ctx context.Context) {
	s.initOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.loadDocument(ctx, repo.DocUsers, &s.users)
		s.loadDocument(ctx, repo.DocServices, &s.services)
		s.loadDocument(ctx, repo.DocOrders, &s.orders)
		s.loadDocument(ctx, repo.DocPayments, &s.payments)
		s.loadDocument(ctx, repo.DocCustomRates, &s.customRates)
		s.loadDocument(ctx, repo.DocServiceOverrides, &s.overrides)
		if s.customRates == nil {
			s.customRates = map[int64]string{}
		}
		if s.overrides == nil {
			s.overrides = map[int64]domain.FieldOverride{}
		}
		s.logger.Info("store loaded",
			"users", len(s.users),
			"services", len(s.services),
			"orders", len(s.orders),
			"payments", len(s.payments),
		)
	})
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) loadDocument(ctx context.Context, name string, dest any) {
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrDocumentNotFound) {
			s.logger.Info("document missing, starting empty", "document", name)
			return
		}
		s.logger.Warn("document unreadable, starting empty", "document", name, "error", err)
		return
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("document corrupt, starting empty", "document", name, "error", err)
		resetValue(dest)
	}
}

func resetValue(dest any) {
	switch v := dest.(type) {
	case *[]domain.User:
		*v = nil
	case *[]domain.Service:
		*v = nil
	case *[]domain.Order:
		*v = nil
	case *[]domain.Payment:
		*v = nil
	case *map[int64]string:
		*v = map[int64]string{}
	case *map[int64]domain.FieldOverride:
		*v = map[int64]domain.FieldOverride{}
	}
}

// save rewrites the whole document. Callers hold the write lock so documents
// reach the backend in mutation order. The write outlives the caller's
// cancellation: the in-memory change has already happened.
func (s *Store) save(ctx context.Context, name string, value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err == nil {
		err = s.backend.Save(context.WithoutCancel(ctx), name, data)
	}
	if err != nil {
		s.logger.Error("save document failed", "document", name, "error", err)
		if s.metrics != nil {
			s.metrics.StoreSaveFailures.WithLabelValues(name).Inc()
		}
	}
}

// Users

// CreateUser stores u. An empty ID gets a fresh uuid and an empty balance
// becomes zero. Email and firebase uid must be unused.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if strings.TrimSpace(u.Balance) == "" {
		u.Balance = pricing.Format(pricing.Parse("0"))
	}
	for _, existing := range s.users {
		switch {
		case existing.ID == u.ID:
			return domain.User{}, fmt.Errorf("user id %s: %w", u.ID, ErrConflict)
		case u.Email != "" && strings.EqualFold(existing.Email, u.Email):
			return domain.User{}, fmt.Errorf("user email %s: %w", u.Email, ErrConflict)
		case u.FirebaseUID != nil && existing.FirebaseUID != nil && *existing.FirebaseUID == *u.FirebaseUID:
			return domain.User{}, fmt.Errorf("user firebase uid: %w", ErrConflict)
		}
	}
	s.users = append(s.users, cloneUser(u))
	s.save(ctx, repo.DocUsers, s.users)
	return cloneUser(u), nil
}

// UpdateUser applies fn to the stored user and persists the result. An error
// from fn aborts the update.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*domain.User) error) (domain.User, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.users {
		if s.users[i].ID != id {
			continue
		}
		next := cloneUser(s.users[i])
		if err := fn(&next); err != nil {
			return domain.User{}, err
		}
		next.ID = id
		s.users[i] = next
		s.save(ctx, repo.DocUsers, s.users)
		return cloneUser(next), nil
	}
	return domain.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
}

// GetUser looks a user up by id.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, bool) {
	return s.findUser(ctx, func(u domain.User) bool { return u.ID == id })
}

// GetUserByUsername looks a user up by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, bool) {
	return s.findUser(ctx, func(u domain.User) bool { return u.Username == username })
}

// GetUserByFirebaseUID looks a user up by external identity.
func (s *Store) GetUserByFirebaseUID(ctx context.Context, uid string) (domain.User, bool) {
	return s.findUser(ctx, func(u domain.User) bool { return u.FirebaseUID != nil && *u.FirebaseUID == uid })
}

// GetUserByEmail looks a user up by email, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, bool) {
	return s.findUser(ctx, func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
}

// AllUsers returns every user in creation order.
func (s *Store) AllUsers(ctx context.Context) []domain.User {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	return out
}

func (s *Store) findUser(ctx context.Context, match func(domain.User) bool) (domain.User, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), true
		}
	}
	return domain.User{}, false
}

// Catalog

// Services returns the raw base catalog.
func (s *Store) Services(ctx context.Context) []domain.Service {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, cloneService(svc))
	}
	return out
}

// SetServices replaces the base catalog wholesale.
func (s *Store) SetServices(ctx context.Context, services []domain.Service) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]domain.Service, 0, len(services))
	for _, svc := range services {
		next = append(next, cloneService(svc))
	}
	s.services = next
	s.save(ctx, repo.DocServices, s.services)
}

// ServiceByID returns the base record for id.
func (s *Store) ServiceByID(ctx context.Context, id int64) (domain.Service, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.baseLocked(id)
	return svc, ok
}

// EffectiveServices returns the customer-facing catalog.
func (s *Store) EffectiveServices(ctx context.Context) []domain.Service {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, s.effectiveLocked(svc))
	}
	return out
}

// EffectiveServiceByID returns the customer-facing record for id. A missing
// base record reports false.
func (s *Store) EffectiveServiceByID(ctx context.Context, id int64) (domain.Service, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.baseLocked(id)
	if !ok {
		return domain.Service{}, false
	}
	return s.effectiveLocked(svc), true
}

// CustomRate returns the admin rate pinned to id, if any.
func (s *Store) CustomRate(ctx context.Context, id int64) (string, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.customRates[id]
	return rate, ok
}

// SetCustomRate pins rate to service id.
func (s *Store) SetCustomRate(ctx context.Context, id int64, rate string) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customRates[id] = pricing.Normalize(rate)
	s.save(ctx, repo.DocCustomRates, s.customRates)
}

// FieldOverride returns the stored field override for id.
func (s *Store) FieldOverride(ctx context.Context, id int64) domain.FieldOverride {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[id].Merge(domain.FieldOverride{})
}

// MergeFieldOverride merges patch into the override for id and returns the
// stored result. Fields absent from patch are preserved.
func (s *Store) MergeFieldOverride(ctx context.Context, id int64, patch domain.FieldOverride) domain.FieldOverride {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.overrides[id].Merge(patch)
	if merged.IsZero() {
		return merged
	}
	s.overrides[id] = merged
	s.save(ctx, repo.DocServiceOverrides, s.overrides)
	return merged.Merge(domain.FieldOverride{})
}

// ServicePatch is an admin edit of one service. Nil fields are untouched.
type ServicePatch struct {
	Rate        *string
	Min         *int64
	Max         *int64
	Description *string
}

// UpdateService applies patch to the service with a base record: the rate
// becomes its custom rate and the rest merges into its field override. It
// returns the resulting effective record.
func (s *Store) UpdateService(ctx context.Context, id int64, patch ServicePatch) (domain.Service, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.baseLocked(id)
	if !ok {
		return domain.Service{}, fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	if patch.Rate != nil {
		s.customRates[id] = pricing.Normalize(*patch.Rate)
		s.save(ctx, repo.DocCustomRates, s.customRates)
	}
	fields := domain.FieldOverride{Min: patch.Min, Max: patch.Max, Description: patch.Description}
	if !fields.IsZero() {
		s.overrides[id] = s.overrides[id].Merge(fields)
		s.save(ctx, repo.DocServiceOverrides, s.overrides)
	}
	return s.effectiveLocked(base), nil
}

func (s *Store) baseLocked(id int64) (domain.Service, bool) {
	for _, svc := range s.services {
		if svc.ID == id {
			return cloneService(svc), true
		}
	}
	return domain.Service{}, false
}

func (s *Store) effectiveLocked(base domain.Service) domain.Service {
	var custom *string
	if rate, ok := s.customRates[base.ID]; ok {
		custom = &rate
	}
	return pricing.Effective(base, custom, s.overrides[base.ID])
}

// Orders

// AddOrder stores a new order. Order ids come from the panel and must be unique.
func (s *Store) AddOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.ID == o.ID {
			return domain.Order{}, fmt.Errorf("order %d: %w", o.ID, ErrConflict)
		}
	}
	s.orders = append(s.orders, cloneOrder(o))
	s.save(ctx, repo.DocOrders, s.orders)
	return cloneOrder(o), nil
}

// OrderByID returns the order with id.
func (s *Store) OrderByID(ctx context.Context, id int64) (domain.Order, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return cloneOrder(o), true
		}
	}
	return domain.Order{}, false
}

// Orders returns the orders owned by userID, newest first.
func (s *Store) Orders(ctx context.Context, userID string) []domain.Order {
	return s.filterOrders(ctx, func(o domain.Order) bool { return o.UserID != nil && *o.UserID == userID })
}

// AllOrders returns every order, newest first.
func (s *Store) AllOrders(ctx context.Context) []domain.Order {
	return s.filterOrders(ctx, func(domain.Order) bool { return true })
}

func (s *Store) filterOrders(ctx context.Context, keep func(domain.Order) bool) []domain.Order {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateOrderProgress records the status fields reported by the panel. The
// charge is never touched.
func (s *Store) UpdateOrderProgress(ctx context.Context, id int64, p domain.OrderProgress) (domain.Order, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID != id {
			continue
		}
		o := &s.orders[i]
		if p.Status != "" {
			o.Status = p.Status
		}
		o.StartCount = cloneInt(p.StartCount)
		o.Remains = cloneInt(p.Remains)
		s.save(ctx, repo.DocOrders, s.orders)
		return cloneOrder(*o), nil
	}
	return domain.Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
}

// Payments

// AddPayment stores a new payment. An empty ID gets a fresh uuid.
func (s *Store) AddPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, existing := range s.payments {
		if existing.ID == p.ID {
			return domain.Payment{}, fmt.Errorf("payment %s: %w", p.ID, ErrConflict)
		}
	}
	s.payments = append(s.payments, clonePayment(p))
	s.save(ctx, repo.DocPayments, s.payments)
	return clonePayment(p), nil
}

// PaymentByID returns the payment with id.
func (s *Store) PaymentByID(ctx context.Context, id string) (domain.Payment, bool) {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ID == id {
			return clonePayment(p), true
		}
	}
	return domain.Payment{}, false
}

// Payments returns the payments owned by userID, newest first.
func (s *Store) Payments(ctx context.Context, userID string) []domain.Payment {
	s.Init(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, clonePayment(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdatePayment applies fn to the stored payment and persists the result.
func (s *Store) UpdatePayment(ctx context.Context, id string, fn func(*domain.Payment) error) (domain.Payment, error) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].ID != id {
			continue
		}
		next := clonePayment(s.payments[i])
		if err := fn(&next); err != nil {
			return domain.Payment{}, err
		}
		next.ID = id
		s.payments[i] = next
		s.save(ctx, repo.DocPayments, s.payments)
		return clonePayment(next), nil
	}
	return domain.Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
}
