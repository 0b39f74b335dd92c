package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Admin decides whether a request may use the admin surface. The caller must
// present the configured admin token. When an email list is configured the
// caller's email must also be on it.
type Admin struct {
	token  string
	emails map[string]struct{}
}

// NewAdmin builds an authorizer. With no token every admin request is
// refused.
func NewAdmin(token string, emails []string) *Admin {
	a := &Admin{token: strings.TrimSpace(token), emails: map[string]struct{}{}}
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

// IsToken reports whether token is the admin token.
func (a *Admin) IsToken(token string) bool {
	return a.token != "" && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.token)) == 1
}

// Authorize returns the admin's identity or ErrUnauthenticated/ErrForbidden.
func (a *Admin) Authorize(r *http.Request) (Identity, error) {
	token, ok := BearerToken(r)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	if !a.IsToken(token) {
		return Identity{}, ErrForbidden
	}
	email := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderEmail)))
	if len(a.emails) > 0 {
		if _, ok := a.emails[email]; !ok {
			return Identity{}, ErrForbidden
		}
	}
	if email == "" {
		email = "admin"
	}
	return Identity{UID: "admin", Email: email}, nil
}
