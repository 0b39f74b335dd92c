// Package auth derives caller identity from request headers and keeps a
// local user record bound to every identity it sees. Tokens are not
// verified; the bearer header only has to be present.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"smm-store/internal/domain"
	"smm-store/internal/store"
)

// Request headers consulted for identity.
const (
	HeaderIdentity = "X-Firebase-Uid"
	HeaderEmail    = "X-User-Email"
)

// PlaceholderEmail stands in for callers that send no email header. It is
// never used to match or store a user.
const PlaceholderEmail = "user@example.com"

var (
	// ErrUnauthenticated means the request carried no usable bearer header.
	ErrUnauthenticated = errors.New("no token provided")
	// ErrForbidden means the caller is known but not allowed.
	ErrForbidden = errors.New("admin access required")
	// ErrEmailTaken means a sync tried to claim another user's email.
	ErrEmailTaken = errors.New("email already in use")
)

// Identity is the caller as described by its headers.
type Identity struct {
	UID   string
	Email string
}

// HasEmail reports whether the caller supplied a real email.
func (id Identity) HasEmail() bool {
	return id.Email != "" && !strings.EqualFold(id.Email, PlaceholderEmail)
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// FromRequest builds the caller identity. The uid header wins over the raw
// bearer token; a missing email header yields PlaceholderEmail.
func FromRequest(r *http.Request) (Identity, error) {
	token, ok := BearerToken(r)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	uid := strings.TrimSpace(r.Header.Get(HeaderIdentity))
	if uid == "" {
		uid = token
	}
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	if email == "" {
		email = PlaceholderEmail
	}
	return Identity{UID: uid, Email: email}, nil
}

// Provisioner finds or creates the local user behind an identity.
type Provisioner struct {
	store  *store.Store
	logger *slog.Logger
}

// NewProvisioner returns a provisioner over st.
func NewProvisioner(st *store.Store, logger *slog.Logger) *Provisioner {
	return &Provisioner{store: st, logger: logger.With("component", "auth")}
}

// Ensure returns the user bound to id.UID. An unbound uid adopts the user
// owning the same email, otherwise a new user is created.
func (p *Provisioner) Ensure(ctx context.Context, id Identity) (domain.User, error) {
	if u, ok := p.store.GetUserByFirebaseUID(ctx, id.UID); ok {
		return u, nil
	}
	if id.HasEmail() {
		if existing, ok := p.store.GetUserByEmail(ctx, id.Email); ok {
			uid := id.UID
			u, err := p.store.UpdateUser(ctx, existing.ID, func(u *domain.User) error {
				u.FirebaseUID = &uid
				return nil
			})
			if err != nil {
				return domain.User{}, fmt.Errorf("bind identity: %w", err)
			}
			p.logger.Info("identity bound to existing user", "user_id", u.ID, "uid", id.UID)
			return u, nil
		}
	}
	u, err := p.create(ctx, id, nil)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent request provisioned the same uid first.
		if existing, ok := p.store.GetUserByFirebaseUID(ctx, id.UID); ok {
			return existing, nil
		}
	}
	return u, err
}

// SyncRequest carries profile fields pushed by the client.
type SyncRequest struct {
	Email       string
	DisplayName string
}

// Sync creates or updates the caller's user from the client profile. Empty
// fields fall back to the identity email.
func (p *Provisioner) Sync(ctx context.Context, id Identity, req SyncRequest) (domain.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" && id.HasEmail() {
		email = id.Email
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}

	existing, ok := p.store.GetUserByFirebaseUID(ctx, id.UID)
	if !ok {
		u, err := p.create(ctx, Identity{UID: id.UID, Email: email}, &displayName)
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, ErrEmailTaken
		}
		return u, err
	}

	if email != "" {
		if owner, ok := p.store.GetUserByEmail(ctx, email); ok && owner.ID != existing.ID {
			return domain.User{}, ErrEmailTaken
		}
	}
	u, err := p.store.UpdateUser(ctx, existing.ID, func(u *domain.User) error {
		if email != "" {
			u.Email = email
		}
		if displayName != "" {
			name := displayName
			u.DisplayName = &name
		}
		return nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("sync user: %w", err)
	}
	return u, nil
}

func (p *Provisioner) create(ctx context.Context, id Identity, displayName *string) (domain.User, error) {
	uid := id.UID
	u := domain.User{
		Username:    uid,
		Email:       uid + "@example.com",
		FirebaseUID: &uid,
		DisplayName: displayName,
	}
	if id.HasEmail() {
		u.Username = id.Email
		u.Email = id.Email
		if u.DisplayName == nil {
			email := id.Email
			u.DisplayName = &email
		}
	}
	created, err := p.store.CreateUser(ctx, u)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	p.logger.Info("user provisioned", "user_id", created.ID, "uid", uid)
	return created, nil
}

type userKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userKey{}).(domain.User)
	return u, ok
}

type identityKey struct{}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
