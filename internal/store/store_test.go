package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"smm-store/internal/domain"
	"smm-store/internal/logging"
	"smm-store/internal/metrics"
	"smm-store/internal/repo"
	"smm-store/migrations"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBackend struct {
	repo.Backend
	failing atomic.Bool
}

func (f *flakyBackend) Save(ctx context.Context, name string, data []byte) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.Backend.Save(ctx, name, data)
}

func newFileStore(t *testing.T, dir string) *Store {
	t.Helper()
	return New(repo.NewFile(dir), logging.Discard(), metrics.Unregistered())
}

func ptr[T any](v T) *T { return &v }

func asJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func seed(t *testing.T, s *Store) (domain.User, domain.Order, domain.Payment) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	user, err := s.CreateUser(ctx, domain.User{Username: "alice@example.com", Email: "alice@example.com", FirebaseUID: ptr("uid-alice")})
	require.NoError(t, err)

	s.SetServices(ctx, []domain.Service{
		{ID: 42, Name: "X", Category: "Y", Rate: "1.6500", Min: 100, Max: 1000},
		{ID: 7, Name: "Likes", Category: "Instagram", Rate: "0.0578", Min: 10, Max: 5000, Description: ptr("fast")},
	})
	s.SetCustomRate(ctx, 7, "0.1000")
	s.MergeFieldOverride(ctx, 42, domain.FieldOverride{Min: ptr(int64(50))})

	order, err := s.AddOrder(ctx, domain.Order{
		ID: 9001, UserID: ptr(user.ID), Service: 42, Link: "https://example.com/p/1",
		Quantity: 40, Status: domain.OrderStatusPending, Charge: "92.4000",
		Remains: ptr(int64(40)), CreatedAt: created,
	})
	require.NoError(t, err)

	payment, err := s.AddPayment(ctx, domain.Payment{
		UserID: user.ID, Amount: "50.0000", Method: "bkash", TransactionID: "TX1",
		Status: domain.PaymentPending, CreatedAt: created,
	})
	require.NoError(t, err)
	return user, order, payment
}

func TestReloadReproducesState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newFileStore(t, dir)
	seed(t, first)

	second := newFileStore(t, dir)
	assert.Equal(t, asJSON(t, first.AllUsers(ctx)), asJSON(t, second.AllUsers(ctx)))
	assert.Equal(t, asJSON(t, first.Services(ctx)), asJSON(t, second.Services(ctx)))
	assert.Equal(t, asJSON(t, first.AllOrders(ctx)), asJSON(t, second.AllOrders(ctx)))
	assert.Equal(t, asJSON(t, first.EffectiveServices(ctx)), asJSON(t, second.EffectiveServices(ctx)))

	rate, ok := second.CustomRate(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, "0.1000", rate)
	assert.Equal(t, int64(50), *second.FieldOverride(ctx, 42).Min)
}

func TestSavesOutliveCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sqlite")
	open := func() *Store {
		b, err := repo.NewSQLite(context.Background(), path, logging.Discard())
		require.NoError(t, err)
		require.NoError(t, b.RunMigrations(context.Background(), migrations.SQLite()))
		return New(b, logging.Discard(), metrics.Unregistered())
	}

	first := open()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	user, err := first.CreateUser(cancelled, domain.User{Username: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	first.SetCustomRate(cancelled, 42, "3.5")
	require.NoError(t, first.Close())

	second := open()
	t.Cleanup(func() { _ = second.Close() })
	got, ok := second.GetUser(cancelled, user.ID)
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", got.Email)
	rate, ok := second.CustomRate(cancelled, 42)
	require.True(t, ok)
	assert.Equal(t, "3.5000", rate)
}

func TestMissingAndCorruptDocumentsStartEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newFileStore(t, dir)
	user, _, _ := seed(t, first)

	require.NoError(t, os.WriteFile(repo.NewFile(dir).Path(repo.DocOrders), []byte("{not json"), 0o644))
	require.NoError(t, os.Remove(repo.NewFile(dir).Path(repo.DocPayments)))

	second := newFileStore(t, dir)
	assert.Empty(t, second.AllOrders(ctx))
	assert.Empty(t, second.Payments(ctx, user.ID))

	got, ok := second.GetUser(ctx, user.ID)
	require.True(t, ok)
	assert.Equal(t, user.Email, got.Email)
}

func TestSaveFailureKeepsMemoryAndLastGoodDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := &flakyBackend{Backend: repo.NewFile(dir)}
	m := metrics.Unregistered()
	s := New(backend, logging.Discard(), m)

	user, err := s.CreateUser(ctx, domain.User{Username: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	_, err = s.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		u.Balance = "10.0000"
		return nil
	})
	require.NoError(t, err)

	backend.failing.Store(true)
	updated, err := s.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		u.Balance = "99.0000"
		return nil
	})
	require.NoError(t, err, "save failures are never surfaced")
	assert.Equal(t, "99.0000", updated.Balance)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreSaveFailures.WithLabelValues(repo.DocUsers)))

	inMemory, _ := s.GetUser(ctx, user.ID)
	assert.Equal(t, "99.0000", inMemory.Balance)

	reloaded := newFileStore(t, dir)
	onDisk, ok := reloaded.GetUser(ctx, user.ID)
	require.True(t, ok)
	assert.Equal(t, "10.0000", onDisk.Balance)
}

func TestCreateUserDefaultsAndUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())

	u, err := s.CreateUser(ctx, domain.User{Username: "carol", Email: "carol@example.com", FirebaseUID: ptr("uid-c")})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "0.0000", u.Balance)

	_, err = s.CreateUser(ctx, domain.User{Username: "carol2", Email: "CAROL@example.com"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.CreateUser(ctx, domain.User{Username: "other", Email: "other@example.com", FirebaseUID: ptr("uid-c")})
	assert.ErrorIs(t, err, ErrConflict)

	byUID, ok := s.GetUserByFirebaseUID(ctx, "uid-c")
	require.True(t, ok)
	assert.Equal(t, u.ID, byUID.ID)

	byName, ok := s.GetUserByUsername(ctx, "carol")
	require.True(t, ok)
	assert.Equal(t, u.ID, byName.ID)

	_, err = s.UpdateUser(ctx, "nope", func(*domain.User) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	u, err := s.CreateUser(ctx, domain.User{Username: "dan", Email: "dan@example.com", DisplayName: ptr("Dan")})
	require.NoError(t, err)

	*u.DisplayName = "Mallory"
	got, _ := s.GetUser(ctx, u.ID)
	assert.Equal(t, "Dan", *got.DisplayName)
}

func TestEffectiveServices(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	s.SetServices(ctx, []domain.Service{{ID: 42, Name: "X", Category: "Y", Rate: "1.6500", Min: 100, Max: 1000}})

	eff, ok := s.EffectiveServiceByID(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, "2.3100", eff.Rate)

	s.SetCustomRate(ctx, 42, "5")
	eff, _ = s.EffectiveServiceByID(ctx, 42)
	assert.Equal(t, "5.0000", eff.Rate)
	rate, _ := s.CustomRate(ctx, 42)
	assert.Equal(t, "5.0000", rate)

	base, _ := s.ServiceByID(ctx, 42)
	assert.Equal(t, "1.6500", base.Rate)

	_, ok = s.EffectiveServiceByID(ctx, 43)
	assert.False(t, ok)
}

func TestFieldOverridesMergePartially(t *testing.T) {
	ctx := context.Background()
	stepwise := newFileStore(t, t.TempDir())
	oneShot := newFileStore(t, t.TempDir())
	base := []domain.Service{{ID: 1, Name: "Views", Category: "YT", Rate: "1.0000", Min: 1, Max: 5}}
	stepwise.SetServices(ctx, base)
	oneShot.SetServices(ctx, base)

	stepwise.MergeFieldOverride(ctx, 1, domain.FieldOverride{Min: ptr(int64(10))})
	stepwise.MergeFieldOverride(ctx, 1, domain.FieldOverride{Max: ptr(int64(20))})
	oneShot.MergeFieldOverride(ctx, 1, domain.FieldOverride{Min: ptr(int64(10)), Max: ptr(int64(20))})

	a, _ := stepwise.EffectiveServiceByID(ctx, 1)
	b, _ := oneShot.EffectiveServiceByID(ctx, 1)
	assert.Equal(t, b, a)
	assert.Equal(t, int64(10), a.Min)
	assert.Equal(t, int64(20), a.Max)

	stepwise.MergeFieldOverride(ctx, 1, domain.FieldOverride{Min: ptr(int64(10))})
	again, _ := stepwise.EffectiveServiceByID(ctx, 1)
	assert.Equal(t, a, again)
}

func TestSetServicesReplacesCatalog(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	s.SetServices(ctx, []domain.Service{{ID: 1, Rate: "1"}, {ID: 2, Rate: "2"}})
	s.SetServices(ctx, []domain.Service{{ID: 3, Rate: "3"}})

	services := s.Services(ctx)
	require.Len(t, services, 1)
	assert.Equal(t, int64(3), services[0].ID)
	_, ok := s.ServiceByID(ctx, 1)
	assert.False(t, ok)
}

func TestOrdersAndPayments(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	user, order, payment := seed(t, s)

	_, err := s.AddOrder(ctx, domain.Order{ID: order.ID})
	assert.ErrorIs(t, err, ErrConflict)

	orders := s.Orders(ctx, user.ID)
	require.Len(t, orders, 1)
	assert.Empty(t, s.Orders(ctx, "someone-else"))

	updated, err := s.UpdateOrderProgress(ctx, order.ID, domain.OrderProgress{
		Status: "In progress", StartCount: ptr(int64(120)), Remains: ptr(int64(12)),
	})
	require.NoError(t, err)
	assert.Equal(t, "In progress", updated.Status)
	assert.Equal(t, int64(12), *updated.Remains)
	assert.Equal(t, "92.4000", updated.Charge)

	_, err = s.UpdateOrderProgress(ctx, 1, domain.OrderProgress{Status: "Completed"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NotEmpty(t, payment.ID)
	payments := s.Payments(ctx, user.ID)
	require.Len(t, payments, 1)
	assert.Nil(t, payments[0].CompletedAt)

	stop := errors.New("stop")
	_, err = s.UpdatePayment(ctx, payment.ID, func(*domain.Payment) error { return stop })
	assert.ErrorIs(t, err, stop)
	unchanged, _ := s.PaymentByID(ctx, payment.ID)
	assert.Equal(t, domain.PaymentPending, unchanged.Status)
}

func TestUpdateService(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	s.SetServices(ctx, []domain.Service{{ID: 42, Name: "X", Category: "Y", Rate: "1.6500", Min: 100, Max: 1000}})

	eff, err := s.UpdateService(ctx, 42, ServicePatch{Rate: ptr("5"), Max: ptr(int64(500))})
	require.NoError(t, err)
	assert.Equal(t, "5.0000", eff.Rate)
	assert.Equal(t, int64(100), eff.Min)
	assert.Equal(t, int64(500), eff.Max)

	eff, err = s.UpdateService(ctx, 42, ServicePatch{Description: ptr("refill")})
	require.NoError(t, err)
	assert.Equal(t, "5.0000", eff.Rate)
	assert.Equal(t, int64(500), eff.Max)
	assert.Equal(t, "refill", *eff.Description)

	_, err = s.UpdateService(ctx, 7, ServicePatch{Rate: ptr("1")})
	assert.ErrorIs(t, err, ErrNotFound)
	_, pinned := s.CustomRate(ctx, 7)
	assert.False(t, pinned, "unknown services get no custom rate")
}
