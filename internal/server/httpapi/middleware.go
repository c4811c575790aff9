package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/obs"
	"github.com/and161185/sessionkeeper/internal/service"
	"go.uber.org/zap"
)

// Authenticator resolves request credentials to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, c service.Credentials) (service.Result, error)
}

// Authenticate gates next behind a valid access credential, renewing it from
// the refresh credential when needed. The renewed value is written back as
// cookie and X-Access-Token header.
func Authenticate(authn Authenticator, b *Binding, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := authn.Authenticate(r.Context(), service.Credentials{
				Access:    b.Access(r),
				Refresh:   b.Refresh(r),
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
			})
			if err != nil {
				if errors.Is(err, errs.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				obs.WithTrace(r.Context(), log).Error("authenticate", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			if res.Renewed != nil {
				b.SetAccess(w, res.Renewed.AccessToken)
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), res.AccountID)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs method, path, status and duration; bodies and credentials are never logged.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			obs.WithTrace(r.Context(), log).Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", clientIP(r)),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
