// Package authz holds role gate decision shared by HTTP and gRPC boundaries.
package authz

import (
	"context"
	"slices"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/userctx"
)

// Check returns principal of the context if its role is allowed.
// apperrors.ErrUnauthenticated if there is no principal, apperrors.ErrInsufficientRole if role is not allowed.
// Empty allowed list lets any authenticated principal in.
func Check(ctx context.Context, allowed []models.Role) (models.Principal, error) {
	p, ok := userctx.FromContext(ctx)
	if !ok {
		return p, apperrors.ErrUnauthenticated
	}

	if len(allowed) > 0 && !slices.Contains(allowed, p.Role) {
		return p, apperrors.ErrInsufficientRole
	}

	return p, nil
}
