// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

var errNoSession = errors.New("no valid session")

// sessionClaims carries the authenticated user identity plus a display name
// for registration ceremonies.
type sessionClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// sessionManager issues and verifies the JWT session cookie set after a
// successful passkey authentication.
type sessionManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	issuer     string
	secure     bool
	now        func() time.Time
}

func newSessionManager(cfg config.SessionConfig, secure bool) *sessionManager {
	return &sessionManager{
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		issuer:     cfg.Issuer,
		secure:     secure,
		now:        time.Now,
	}
}

// Issue signs a session token for the verified user and sets it as an
// HttpOnly cookie on the response.
func (m *sessionManager) Issue(w http.ResponseWriter, userID, name string) error {
	now := m.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Name: name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (m *sessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Principal resolves the authenticated caller from the session cookie.
// Satisfies the passkey HTTP handler's PrincipalFunc.
func (m *sessionManager) Principal(r *http.Request) (passkey.Principal, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return passkey.Principal{}, errNoSession
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims,
		func(t *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return passkey.Principal{}, errNoSession
	}
	if claims.Subject == "" {
		return passkey.Principal{}, errNoSession
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return passkey.Principal{ID: claims.Subject, Name: name}, nil
}
