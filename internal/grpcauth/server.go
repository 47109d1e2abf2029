// Package grpcauth authenticates gRPC calls with access tokens passed in metadata
package grpcauth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/authz"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/auth/tokencodec"
	"github.com/nkiryanov/authcore/internal/userctx"
)

type authenticator interface {
	ParseAuthorization(value string) (tokencodec.Claims, error)
	HeaderName() string
}

// Policy per full method name ('/pkg.Service/Method')
type Policy struct {
	// Methods callable without access token
	Public map[string]bool

	// Roles allowed to call method; any authenticated role if method is not listed
	Roles map[string][]models.Role
}

// UnaryServerInterceptor verifies access token from metadata and attaches principal to context.
// Metadata keys are lower case, so header name is lowered too.
func UnaryServerInterceptor(a authenticator, policy Policy, l logger.Logger) grpc.UnaryServerInterceptor {
	key := strings.ToLower(a.HeaderName())

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if policy.Public[info.FullMethod] {
			return handler(ctx, req)
		}

		var value string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(key); len(values) > 0 {
				value = values[0]
			}
		}

		claims, err := a.ParseAuthorization(value)
		if err != nil {
			reason := apperrors.Reason(err)
			metrics.AuthFailures.WithLabelValues(reason).Inc()
			l.Warn("call authentication failed", "reason", reason, "method", info.FullMethod)

			msg := "unauthorized"
			if errors.Is(err, apperrors.ErrExpiredToken) {
				msg = "token expired"
			}
			return nil, status.Error(codes.Unauthenticated, msg)
		}

		ctx = userctx.New(ctx, claims.Principal)
		if _, err := authz.Check(ctx, policy.Roles[info.FullMethod]); err != nil {
			metrics.AuthFailures.WithLabelValues(apperrors.Reason(err)).Inc()
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}

		return handler(ctx, req)
	}
}
