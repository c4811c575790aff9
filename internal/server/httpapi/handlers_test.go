package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/sessionkeeper/internal/crypto"
	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/limiter"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/and161185/sessionkeeper/internal/repository/memory"
	"github.com/and161185/sessionkeeper/internal/service"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testInternalKey = "handoff-key"

type fakeLimiter struct {
	deny      bool
	retry     time.Duration
	blockOnce bool
	allowErr  error

	failures  int
	successes int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	return !l.deny, l.retry, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successes++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failures++
	return l.blockOnce, l.retry, nil
}

type testEnv struct {
	h        http.Handler
	mgr      *service.Manager
	accounts *memory.Accounts
	lim      *fakeLimiter
	account  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	codec, err := pkgcrypto.NewCodec(pkgcrypto.Keys{
		Access:  bytes.Repeat([]byte{'a'}, pkgcrypto.MinKeyLen),
		Refresh: bytes.Repeat([]byte{'r'}, pkgcrypto.MinKeyLen),
	}, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	e := &testEnv{
		accounts: memory.NewAccounts(),
		lim:      &fakeLimiter{},
		account:  uuid.Must(uuid.NewV4()),
	}
	e.accounts.Add(e.account)
	e.mgr = service.NewManager(codec, memory.NewSessionStore(nil), e.accounts)
	authn := service.NewAuthenticator(codec, e.accounts, e.mgr, nil)
	b := NewBinding(CookieConfig{}, codec.AccessTTL(), codec.RefreshTTL())
	e.h = NewHandler(e.mgr, authn, b, Opts{
		Logger:      zaptest.NewLogger(t),
		Limiter:     e.lim,
		InternalKey: testInternalKey,
	}).Routes()
	return e
}

func (e *testEnv) do(method, path, body string, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, m := range mods {
		m(r)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, r)
	return rec
}

func (e *testEnv) issue(t *testing.T) model.Tokens {
	t.Helper()
	tk, err := e.mgr.Issue(context.Background(), e.account, model.Metadata{})
	require.NoError(t, err)
	return tk
}

func withInternalKey(r *http.Request) { r.Header.Set(HeaderInternalKey, testInternalKey) }

func withRefreshCookie(v string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: v}) }
}

func withHeader(k, v string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func cookieOf(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSession_RequiresInternalKey(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	body := `{"account_id":"` + e.account.String() + `"}`

	rec := e.do(http.MethodPost, "/auth/session", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/auth/session", body, withHeader(HeaderInternalKey, "wrong"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSession_Issues(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/auth/session",
		`{"account_id":"`+e.account.String()+`","device":"iPhone"}`, withInternalKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[tokensResponse](t, rec)
	require.Equal(t, e.account.String(), resp.AccountID)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotNil(t, resp.RefreshExpiresAt)

	ac, rc := cookieOf(rec, AccessCookie), cookieOf(rec, RefreshCookie)
	require.NotNil(t, ac)
	require.NotNil(t, rc)
	require.Equal(t, resp.AccessToken, ac.Value)
	require.Equal(t, resp.RefreshToken, rc.Value)
	require.True(t, rc.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, rc.SameSite)
	require.Equal(t, resp.AccessToken, rec.Header().Get(HeaderAccess))
	require.Equal(t, 1, e.lim.successes)
}

func TestSession_BadRequests(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/auth/session", `{"account_id":`, withInternalKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/auth/session", `{"account_id":"nope"}`, withInternalKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/auth/session", `{"account_id":"`+e.account.String()+`","extra":1}`, withInternalKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/auth/session", `{"account_id":"`+uuid.Must(uuid.NewV4()).String()+`"}`, withInternalKey)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 1, e.lim.failures)
}

func TestRefresh_HeaderAndCookie(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	tk := e.issue(t)

	for name, mod := range map[string]func(*http.Request){
		"header":        withHeader(HeaderRefresh, tk.RefreshToken),
		"bearer header": withHeader(HeaderRefresh, "Bearer "+tk.RefreshToken),
		"cookie":        withRefreshCookie(tk.RefreshToken),
	} {
		rec := e.do(http.MethodPost, "/auth/refresh", "", mod)
		require.Equal(t, http.StatusOK, rec.Code, name)

		resp := decodeBody[tokensResponse](t, rec)
		require.NotEmpty(t, resp.AccessToken, name)
		require.Empty(t, resp.RefreshToken, name)
		require.Equal(t, tk.SessionID, resp.SessionID, name)
		require.NotNil(t, cookieOf(rec, AccessCookie), name)
		require.Nil(t, cookieOf(rec, RefreshCookie), name)
	}
}

func TestRefresh_RejectedClearsCookies(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie("garbage"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeBody[errorResponse](t, rec).Error)
	require.Equal(t, -1, cookieOf(rec, RefreshCookie).MaxAge)
	require.Equal(t, 1, e.lim.failures)
}

func TestRotate_ReplayIsRejected(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	tk := e.issue(t)

	rec := e.do(http.MethodPost, "/auth/rotate", "", withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeBody[tokensResponse](t, rec)
	require.NotEqual(t, tk.RefreshToken, next.RefreshToken)
	require.Equal(t, next.RefreshToken, cookieOf(rec, RefreshCookie).Value)

	rec = e.do(http.MethodPost, "/auth/rotate", "", withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, -1, cookieOf(rec, AccessCookie).MaxAge)
	require.Equal(t, -1, cookieOf(rec, RefreshCookie).MaxAge)

	// reuse revoked the successor too
	rec = e.do(http.MethodPost, "/auth/refresh", "", withHeader(HeaderRefresh, next.RefreshToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	tk := e.issue(t)

	rec := e.do(http.MethodPost, "/auth/logout", "", withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, -1, cookieOf(rec, RefreshCookie).MaxAge)

	rec = e.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// nothing to revoke still clears cookies
	rec = e.do(http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, cookieOf(rec, AccessCookie))
}

func TestMe_FastPathAndSilentRenewal(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	tk := e.issue(t)

	rec := e.do(http.MethodGet, "/auth/me", "", withHeader("Authorization", "Bearer "+tk.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, e.account.String(), decodeBody[map[string]string](t, rec)["account_id"])
	require.Empty(t, rec.Header().Get(HeaderAccess))

	rec = e.do(http.MethodGet, "/auth/me", "",
		withHeader("Authorization", "Bearer stale"), withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)
	renewed := rec.Header().Get(HeaderAccess)
	require.NotEmpty(t, renewed)
	require.Equal(t, renewed, cookieOf(rec, AccessCookie).Value)

	rec = e.do(http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeBody[errorResponse](t, rec).Error)
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	tk := e.issue(t)
	path := "/admin/accounts/" + e.account.String() + "/sessions"

	rec := e.do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/admin/accounts/nope/sessions", "", withInternalKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodDelete, path, "", withInternalKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), decodeBody[map[string]int64](t, rec)["revoked"])

	rec = e.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie(tk.RefreshToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThrottling(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	e.lim.deny = true
	e.lim.retry = 30 * time.Second
	rec := e.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie("x"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))
	require.Zero(t, e.lim.failures)

	e.lim.deny = false
	e.lim.blockOnce = true
	rec = e.do(http.MethodPost, "/auth/rotate", "", withRefreshCookie("x"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, 1, e.lim.failures)

	e.lim.blockOnce = false
	e.lim.allowErr = errors.New("db down")
	rec = e.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie("x"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type storageDown struct{ service.SessionManager }

func (storageDown) Refresh(context.Context, string) (model.Tokens, error) {
	return model.Tokens{}, errs.Storage("find active session", errors.New("timeout"))
}

func (storageDown) Revoke(context.Context, string, model.RevokeReason) error {
	return errs.Storage("lookup session", errors.New("timeout"))
}

type authnDown struct{}

func (authnDown) Authenticate(context.Context, service.Credentials) (service.Result, error) {
	return service.Result{}, errs.Storage("find account", errors.New("timeout"))
}

func TestStorageFailures(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{}
	b := NewBinding(CookieConfig{}, time.Minute, time.Hour)
	h := NewHandler(storageDown{}, authnDown{}, b, Opts{Logger: zaptest.NewLogger(t), Limiter: lim}).Routes()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/auth/refresh"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/me"},
	} {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "r"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
	require.Zero(t, lim.failures, "storage errors are not credential failures")
}
