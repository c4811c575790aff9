package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBinding_ExtractPrecedence(t *testing.T) {
	t.Parallel()
	b := NewBinding(CookieConfig{}, time.Minute, time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, b.Access(r))
	require.Empty(t, b.Refresh(r))

	r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie-a"})
	r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "cookie-r"})
	require.Equal(t, "cookie-a", b.Access(r))
	require.Equal(t, "cookie-r", b.Refresh(r))

	r.Header.Set("Authorization", "Bearer header-a")
	r.Header.Set(HeaderRefresh, "header-r")
	require.Equal(t, "header-a", b.Access(r))
	require.Equal(t, "header-r", b.Refresh(r))

	r.Header.Set(HeaderRefresh, "bearer header-r2")
	require.Equal(t, "header-r2", b.Refresh(r))

	// a non-bearer Authorization header does not shadow the cookie
	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	require.Equal(t, "cookie-a", b.Access(r))
}

func TestBinding_CookieAttributes(t *testing.T) {
	t.Parallel()
	b := NewBinding(CookieConfig{Domain: "example.com", Secure: true}, 15*time.Minute, 24*time.Hour)
	rec := httptest.NewRecorder()

	b.Attach(rec, model.Tokens{AccessToken: "A", RefreshToken: "R"})

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Len(t, cookies, 2)
	for name, c := range cookies {
		require.True(t, c.HttpOnly, name)
		require.True(t, c.Secure, name)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite, name)
		require.Equal(t, "/", c.Path, name)
		require.Equal(t, "example.com", c.Domain, name)
	}
	require.Equal(t, 900, cookies[AccessCookie].MaxAge)
	require.Equal(t, 86400, cookies[RefreshCookie].MaxAge)
	require.Equal(t, "A", rec.Header().Get(HeaderAccess))
}

func TestBinding_Clear(t *testing.T) {
	t.Parallel()
	b := NewBinding(CookieConfig{Path: "/auth"}, time.Minute, time.Hour)
	rec := httptest.NewRecorder()

	b.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
		require.Equal(t, "/auth", c.Path)
	}
}
