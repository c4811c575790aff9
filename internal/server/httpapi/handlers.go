package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/limiter"
	"github.com/and161185/sessionkeeper/internal/model"
	"github.com/and161185/sessionkeeper/internal/obs"
	"github.com/and161185/sessionkeeper/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// HeaderInternalKey authenticates calls from the trusted user service.
const HeaderInternalKey = "X-Internal-Key"

// Handler serves the session lifecycle routes.
type Handler struct {
	log         *zap.Logger
	mgr         service.SessionManager
	authn       Authenticator
	binding     *Binding
	lim         limiter.Limiter
	internalKey string
}

// Opts holds optional Handler dependencies.
type Opts struct {
	Logger      *zap.Logger
	Limiter     limiter.Limiter
	InternalKey string
}

// NewHandler constructs a Handler. Without an internal key the privileged routes always answer 403.
func NewHandler(mgr service.SessionManager, authn Authenticator, b *Binding, o Opts) *Handler {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	lim := o.Limiter
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &Handler{
		log:         log.With(zap.String("component", "httpapi")),
		mgr:         mgr,
		authn:       authn,
		binding:     b,
		lim:         lim,
		internalKey: o.InternalKey,
	}
}

// Routes returns the routed, access-logged handler.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/session", h.handleSession)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/rotate", h.handleRotate)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("GET /auth/me", Authenticate(h.authn, h.binding, h.log)(http.HandlerFunc(h.handleMe)))
	mux.HandleFunc("DELETE /admin/accounts/{id}/sessions", h.handleRevokeAll)
	return AccessLog(h.log)(mux)
}

type sessionRequest struct {
	AccountID string `json:"account_id"`
	Device    string `json:"device"`
}

type tokensResponse struct {
	AccountID        string     `json:"account_id"`
	SessionID        string     `json:"session_id"`
	AccessToken      string     `json:"access_token"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshToken     string     `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}

func toResponse(t model.Tokens) tokensResponse {
	out := tokensResponse{
		AccountID:       t.AccountID.String(),
		SessionID:       t.SessionID,
		AccessToken:     t.AccessToken,
		AccessExpiresAt: t.AccessExpiresAt,
		RefreshToken:    t.RefreshToken,
	}
	if t.RefreshToken != "" {
		exp := t.RefreshExpiresAt
		out.RefreshExpiresAt = &exp
	}
	return out
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !h.internal(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	accountID, err := uuid.FromString(strings.TrimSpace(req.AccountID))
	if err != nil || accountID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	device := req.Device
	if device == "" {
		device = r.UserAgent()
	}

	h.throttled(w, r, limiter.ScopeSession, func(ctx context.Context) (model.Tokens, error) {
		return h.mgr.Issue(ctx, accountID, model.Metadata{IP: clientIP(r), UserAgent: device})
	}, func(t model.Tokens) {
		h.binding.Attach(w, t)
		writeJSON(w, http.StatusOK, toResponse(t))
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := h.binding.Refresh(r)
	h.throttled(w, r, limiter.ScopeRefresh, func(ctx context.Context) (model.Tokens, error) {
		return h.mgr.Refresh(ctx, refresh)
	}, func(t model.Tokens) {
		h.binding.SetAccess(w, t.AccessToken)
		writeJSON(w, http.StatusOK, toResponse(t))
	})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	refresh := h.binding.Refresh(r)
	md := model.Metadata{IP: clientIP(r), UserAgent: r.UserAgent()}
	h.throttled(w, r, limiter.ScopeRotate, func(ctx context.Context) (model.Tokens, error) {
		return h.mgr.Rotate(ctx, refresh, md)
	}, func(t model.Tokens) {
		h.binding.Attach(w, t)
		writeJSON(w, http.StatusOK, toResponse(t))
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	err := h.mgr.Revoke(r.Context(), h.binding.Refresh(r), model.ReasonLogout)
	h.binding.Clear(w)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": id.String()})
}

func (h *Handler) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	if !h.internal(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	accountID, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	n, err := h.mgr.RevokeAll(r.Context(), accountID, model.ReasonAdmin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// throttled runs op under the per-IP failure limiter of scope. Only rejections
// count as failures; storage errors do not.
func (h *Handler) throttled(w http.ResponseWriter, r *http.Request, scope string,
	op func(ctx context.Context) (model.Tokens, error), ok func(model.Tokens)) {
	ctx := r.Context()
	ipHash := limiter.HashIP(clientIP(r))

	allowed, retry, err := h.lim.Allow(ctx, scope, ipHash)
	if err != nil {
		h.fail(w, r, errs.Storage("limiter allow", err))
		return
	}
	if !allowed {
		writeRateLimited(w, retry)
		return
	}

	t, err := op(ctx)
	if err == nil {
		if err := h.lim.Success(ctx, scope, ipHash); err != nil {
			obs.WithTrace(ctx, h.log).Warn("limiter reset failed", zap.String("scope", scope), zap.Error(err))
		}
		ok(t)
		return
	}

	if errors.Is(err, errs.ErrUnauthorized) || errors.Is(err, errs.ErrReuseDetected) {
		if scope != limiter.ScopeSession {
			h.binding.Clear(w)
		}
		blocked, retry, lerr := h.lim.Failure(ctx, scope, ipHash)
		if lerr != nil {
			obs.WithTrace(ctx, h.log).Warn("limiter failure not recorded", zap.String("scope", scope), zap.Error(lerr))
		}
		if blocked {
			writeRateLimited(w, retry)
			return
		}
	}
	h.fail(w, r, err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrReuseDetected):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		writeRateLimited(w, 0)
	case errors.Is(err, errs.ErrStorage):
		obs.WithTrace(r.Context(), h.log).Error("storage", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		obs.WithTrace(r.Context(), h.log).Error("internal", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func (h *Handler) internal(r *http.Request) bool {
	got := r.Header.Get(HeaderInternalKey)
	if h.internalKey == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.internalKey)) == 1
}
