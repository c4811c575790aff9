// Package httpapi exposes the session lifecycle over HTTP with cookie or header transport.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/and161185/sessionkeeper/internal/model"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	HeaderRefresh = "X-Refresh-Token"
	HeaderAccess  = "X-Access-Token"
)

// CookieConfig holds cookie attributes shared by both credentials.
type CookieConfig struct {
	Domain string
	Path   string
	Secure bool
}

// Binding moves credentials between HTTP requests/responses and plain strings.
// Headers take precedence over cookies.
type Binding struct {
	cookies    CookieConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewBinding constructs a Binding; cookie MaxAge follows the credential TTLs.
func NewBinding(c CookieConfig, accessTTL, refreshTTL time.Duration) *Binding {
	if c.Path == "" {
		c.Path = "/"
	}
	return &Binding{cookies: c, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Access returns the access credential from Authorization: Bearer or the access cookie.
func (b *Binding) Access(r *http.Request) string {
	if v := bearer(r.Header.Get("Authorization")); v != "" {
		return v
	}
	return cookieValue(r, AccessCookie)
}

// Refresh returns the refresh credential from X-Refresh-Token or the refresh cookie.
func (b *Binding) Refresh(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderRefresh)); v != "" {
		if t := bearer(v); t != "" {
			return t
		}
		return v
	}
	return cookieValue(r, RefreshCookie)
}

// SetAccess writes the access cookie and echoes the value for header-based clients.
func (b *Binding) SetAccess(w http.ResponseWriter, token string) {
	b.set(w, AccessCookie, token, b.accessTTL)
	w.Header().Set(HeaderAccess, token)
}

// SetRefresh writes the refresh cookie.
func (b *Binding) SetRefresh(w http.ResponseWriter, token string) {
	b.set(w, RefreshCookie, token, b.refreshTTL)
}

// Attach writes every credential present in t.
func (b *Binding) Attach(w http.ResponseWriter, t model.Tokens) {
	if t.AccessToken != "" {
		b.SetAccess(w, t.AccessToken)
	}
	if t.RefreshToken != "" {
		b.SetRefresh(w, t.RefreshToken)
	}
}

// Clear expires both cookies.
func (b *Binding) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     b.cookies.Path,
			Domain:   b.cookies.Domain,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   b.cookies.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (b *Binding) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     b.cookies.Path,
		Domain:   b.cookies.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func bearer(h string) string {
	const p = "bearer "
	if len(h) > len(p) && strings.EqualFold(h[:len(p)], p) {
		return strings.TrimSpace(h[len(p):])
	}
	return ""
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
