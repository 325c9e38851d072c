/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webproxy

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gravitational/trace"
)

const (
	sessionCookieName = "warpgate_session"
	pendingCookieName = "warpgate_pending"
)

// sessionClaims is the signed session cookie's payload, the same
// Subject/Expiry-bearing shape as the teacher's own lib/jwt.Claims, built
// on golang-jwt/jwt/v4 instead since this cookie authenticates a browser
// session against this gateway rather than a downstream application.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// pendingClaims is the short-lived cookie tracking an in-progress,
// not-yet-satisfied AuthAttempt between the login POST and a following
// OTP POST.
type pendingClaims struct {
	jwt.RegisteredClaims
	AttemptID string `json:"aid"`
}

func (s *Server) issueSessionCookie(w http.ResponseWriter, userID string) {
	now := s.cfg.Clock.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.CookieMaxAge)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.CookieSigningKey)
	if err != nil {
		log.WithError(err).Error("failed to sign session cookie")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.CookieMaxAge.Seconds()),
	})
	clearCookie(w, pendingCookieName)
}

func (s *Server) issuePendingCookie(w http.ResponseWriter, attemptID string) {
	now := s.cfg.Clock.Now()
	claims := pendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
		AttemptID: attemptID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.CookieSigningKey)
	if err != nil {
		log.WithError(err).Error("failed to sign pending-attempt cookie")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     pendingCookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

func (s *Server) verifySessionCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", trace.AccessDenied("no session")
	}
	var claims sessionClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return s.cfg.CookieSigningKey, nil
	})
	if err != nil {
		return "", trace.AccessDenied("invalid session")
	}
	return claims.UserID, nil
}

func (s *Server) pendingAttemptID(r *http.Request) (string, error) {
	c, err := r.Cookie(pendingCookieName)
	if err != nil {
		return "", trace.AccessDenied("no pending authentication attempt")
	}
	var claims pendingClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return s.cfg.CookieSigningKey, nil
	})
	if err != nil {
		return "", trace.AccessDenied("invalid pending-attempt cookie")
	}
	return claims.AttemptID, nil
}
