package cookies

import (
	"net/http"
	"time"
)

// Cookie names written by the API. Legacy camel-case names are still read.
const (
	AccessName        = "access_token"
	RefreshName       = "refresh_token"
	VerificationName  = "verificationToken"
	legacyAccessName  = "accessToken"
	legacyRefreshName = "refreshToken"
)

// Manager writes and clears the auth cookies. All cookies are httpOnly with Path "/".
type Manager struct {
	Domain          string
	Secure          bool
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
}

// SetSession writes the access and refresh cookies (SameSite=Strict).
func (m *Manager) SetSession(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, m.cookie(AccessName, accessToken, http.SameSiteStrictMode, m.AccessTTL))
	http.SetCookie(w, m.cookie(RefreshName, refreshToken, http.SameSiteStrictMode, m.RefreshTTL))
}

// ClearSession expires both session cookies under every name they may have been set with.
func (m *Manager) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{AccessName, RefreshName, legacyAccessName, legacyRefreshName} {
		http.SetCookie(w, m.expired(name, http.SameSiteStrictMode))
	}
}

// SetVerification writes the verification cookie (SameSite=Lax) so the user
// can arrive from the emailed link.
func (m *Manager) SetVerification(w http.ResponseWriter, token string) {
	http.SetCookie(w, m.cookie(VerificationName, token, http.SameSiteLaxMode, m.VerificationTTL))
}

func (m *Manager) ClearVerification(w http.ResponseWriter) {
	http.SetCookie(w, m.expired(VerificationName, http.SameSiteLaxMode))
}

func (m *Manager) cookie(name, value string, sameSite http.SameSite, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.Domain,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: sameSite,
		MaxAge:   int(ttl.Seconds()),
	}
}

func (m *Manager) expired(name string, sameSite http.SameSite) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   m.Domain,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: sameSite,
		MaxAge:   -1,
	}
}

// AccessToken returns the access cookie, preferring the canonical name.
func AccessToken(r *http.Request) string {
	return first(r, AccessName, legacyAccessName)
}

// RefreshToken returns the refresh cookie, preferring the canonical name.
func RefreshToken(r *http.Request) string {
	return first(r, RefreshName, legacyRefreshName)
}

func VerificationToken(r *http.Request) string {
	return first(r, VerificationName)
}

func first(r *http.Request, names ...string) string {
	for _, name := range names {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}
