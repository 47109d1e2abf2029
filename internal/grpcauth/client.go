package grpcauth

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nkiryanov/authcore/internal/reauth"
)

// UnaryClientInterceptor sends access token held by coordinator with every call.
// Unauthenticated calls are refreshed and replayed once by the coordinator.
func UnaryClientInterceptor(c *reauth.Coordinator, header string, scheme string) grpc.UnaryClientInterceptor {
	if header == "" {
		header = "authorization"
	}
	if scheme == "" {
		scheme = "Bearer"
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return c.Do(ctx, func(ctx context.Context, access string) error {
			ctx = metadata.AppendToOutgoingContext(ctx, header, scheme+" "+access)

			err := invoker(ctx, method, req, reply, cc, opts...)
			if status.Code(err) == codes.Unauthenticated {
				return fmt.Errorf("%w: %w", reauth.ErrAuthFailed, err)
			}
			return err
		})
	}
}
