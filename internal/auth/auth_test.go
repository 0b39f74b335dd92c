package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"smm-store/internal/domain"
	"smm-store/internal/logging"
	"smm-store/internal/metrics"
	"smm-store/internal/repo"
	"smm-store/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func newProvisioner(t *testing.T) (*Provisioner, *store.Store) {
	t.Helper()
	st := store.New(repo.NewFile(t.TempDir()), logging.Discard(), metrics.Unregistered())
	return NewProvisioner(st, logging.Discard()), st
}

func TestFromRequest(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		_, err := FromRequest(request(nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	t.Run("wrong scheme", func(t *testing.T) {
		_, err := FromRequest(request(map[string]string{"Authorization": "Basic abc"}))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	t.Run("empty token", func(t *testing.T) {
		_, err := FromRequest(request(map[string]string{"Authorization": "Bearer  "}))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
	t.Run("token as uid", func(t *testing.T) {
		id, err := FromRequest(request(map[string]string{"Authorization": "Bearer tok-1"}))
		require.NoError(t, err)
		assert.Equal(t, Identity{UID: "tok-1", Email: PlaceholderEmail}, id)
		assert.False(t, id.HasEmail())
	})
	t.Run("uid header wins", func(t *testing.T) {
		id, err := FromRequest(request(map[string]string{
			"Authorization": "Bearer tok-1",
			HeaderIdentity:  "uid-9",
			HeaderEmail:     "a@b.c",
		}))
		require.NoError(t, err)
		assert.Equal(t, Identity{UID: "uid-9", Email: "a@b.c"}, id)
	})
}

func TestEnsureCreatesOnce(t *testing.T) {
	ctx := context.Background()
	p, st := newProvisioner(t)

	u, err := p.Ensure(ctx, Identity{UID: "uid-1", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Username)
	assert.Equal(t, "0.0000", u.Balance)
	require.NotNil(t, u.FirebaseUID)
	assert.Equal(t, "uid-1", *u.FirebaseUID)

	again, err := p.Ensure(ctx, Identity{UID: "uid-1", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Len(t, st.AllUsers(ctx), 1)
}

func TestEnsureAdoptsUserByEmail(t *testing.T) {
	ctx := context.Background()
	p, st := newProvisioner(t)
	topped, err := st.CreateUser(ctx, domain.User{Username: "bo@example.com", Email: "bo@example.com", Balance: "30.0000"})
	require.NoError(t, err)

	u, err := p.Ensure(ctx, Identity{UID: "uid-bo", Email: "bo@example.com"})
	require.NoError(t, err)
	assert.Equal(t, topped.ID, u.ID)
	assert.Equal(t, "30.0000", u.Balance)
	assert.Equal(t, "uid-bo", *u.FirebaseUID)
}

func TestEnsurePlaceholderEmailNeverMatches(t *testing.T) {
	ctx := context.Background()
	p, st := newProvisioner(t)

	a, err := p.Ensure(ctx, Identity{UID: "a", Email: PlaceholderEmail})
	require.NoError(t, err)
	b, err := p.Ensure(ctx, Identity{UID: "b", Email: PlaceholderEmail})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "a@example.com", a.Email)
	assert.Equal(t, "b", b.Username)
	assert.Len(t, st.AllUsers(ctx), 2)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvisioner(t)
	id := Identity{UID: "uid-s", Email: PlaceholderEmail}
	_, err := p.Ensure(ctx, id)
	require.NoError(t, err)

	u, err := p.Sync(ctx, id, SyncRequest{Email: "sam@example.com", DisplayName: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", u.Email)
	assert.Equal(t, "Sam", *u.DisplayName)

	_, err = p.Ensure(ctx, Identity{UID: "uid-t", Email: "tia@example.com"})
	require.NoError(t, err)
	_, err = p.Sync(ctx, id, SyncRequest{Email: "tia@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), domain.User{ID: "u1"})
	u, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
}

func TestAdminAuthorize(t *testing.T) {
	open := NewAdmin("s3cret", nil)

	_, err := open.Authorize(request(nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	id, err := open.Authorize(request(map[string]string{"Authorization": "Bearer s3cret"}))
	require.NoError(t, err)
	assert.Equal(t, "admin", id.Email)

	_, err = open.Authorize(request(map[string]string{"Authorization": "Bearer any"}))
	assert.ErrorIs(t, err, ErrForbidden)

	listed := NewAdmin("s3cret", []string{" Boss@Example.com "})

	id, err = listed.Authorize(request(map[string]string{"Authorization": "Bearer s3cret", HeaderEmail: "boss@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "boss@example.com", id.Email)

	_, err = listed.Authorize(request(map[string]string{"Authorization": "Bearer any", HeaderEmail: "boss@example.com"}))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = listed.Authorize(request(map[string]string{"Authorization": "Bearer s3cret", HeaderEmail: "joe@example.com"}))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = listed.Authorize(request(map[string]string{"Authorization": "Bearer s3cret"}))
	assert.ErrorIs(t, err, ErrForbidden)

	closed := NewAdmin("", []string{"boss@example.com"})
	_, err = closed.Authorize(request(map[string]string{"Authorization": "Bearer ", HeaderEmail: "boss@example.com"}))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = closed.Authorize(request(map[string]string{"Authorization": "Bearer x", HeaderEmail: "boss@example.com"}))
	assert.ErrorIs(t, err, ErrForbidden)

	assert.True(t, open.IsToken(" s3cret"))
	assert.False(t, closed.IsToken(""))
}
