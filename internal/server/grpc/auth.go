package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/and161185/sessionkeeper/internal/errs"
	"github.com/and161185/sessionkeeper/internal/obs"
	"github.com/and161185/sessionkeeper/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys carrying credentials.
const (
	MDAuthorization = "authorization"
	MDRefreshToken  = "x-refresh-token"
	MDAccessToken   = "x-access-token"
	MDUserAgent     = "user-agent"
)

// Authenticator resolves request credentials to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, c service.Credentials) (service.Result, error)
}

// AuthUnary authenticates every call except the listed public methods. A
// renewed access credential is returned in the x-access-token response header.
// It is meant for application services registered next to health on the same
// server; the session operations themselves are served over HTTP.
func AuthUnary(authn Authenticator, log *zap.Logger, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(public))
	for _, m := range public {
		skip[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; ok {
			return next(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		res, err := authn.Authenticate(ctx, service.Credentials{
			Access:    bearerFromMD(md),
			Refresh:   refreshFromMD(md),
			IP:        remoteIP(ctx),
			UserAgent: first(md, MDUserAgent),
			Path:      info.FullMethod,
		})
		if err != nil {
			return nil, toStatus(ctx, log, info.FullMethod, err)
		}
		if res.Renewed != nil {
			if err := grpc.SetHeader(ctx, metadata.Pairs(MDAccessToken, res.Renewed.AccessToken)); err != nil {
				obs.WithTrace(ctx, log).Warn("renewed access header not set", zap.String("method", info.FullMethod), zap.Error(err))
			}
		}
		return next(WithAccountID(ctx, res.AccountID), req)
	}
}

func toStatus(ctx context.Context, log *zap.Logger, method string, err error) error {
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrReuseDetected):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrStorage):
		obs.WithTrace(ctx, log).Error("authenticate", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Unavailable, "unavailable")
	default:
		obs.WithTrace(ctx, log).Error("authenticate", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}

func bearerFromMD(md metadata.MD) string {
	for _, v := range md.Get(MDAuthorization) {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t
			}
		}
	}
	return ""
}

func refreshFromMD(md metadata.MD) string {
	v := first(md, MDRefreshToken)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}

func first(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func remoteIP(ctx context.Context) string {
	addr := remoteAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
