package main

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/and161185/sessionkeeper/internal/config"
	"github.com/and161185/sessionkeeper/internal/server/httpapi"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, a *app) *http.Server {
	binding := httpapi.NewBinding(httpapi.CookieConfig{
		Domain: cfg.Auth.CookieDomain,
		Path:   cfg.Auth.CookiePath,
		Secure: cfg.SecureCookies(),
	}, a.codec.AccessTTL(), a.codec.RefreshTTL())

	h := httpapi.NewHandler(a.manager, a.authn, binding, httpapi.Opts{
		Logger:      logger,
		Limiter:     a.limiter,
		InternalKey: cfg.Auth.InternalKey,
	})

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           otelhttp.NewHandler(h.Routes(), "sessionkeeper.http"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}
