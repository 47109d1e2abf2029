package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/userctx"
)

func Test_Check(t *testing.T) {
	withRole := func(role models.Role) context.Context {
		return userctx.New(context.Background(), models.Principal{UserID: uuid.New(), Role: role})
	}

	tests := []struct {
		name        string
		ctx         context.Context
		allowed     []models.Role
		expectedErr error
	}{
		{"no principal", context.Background(), []models.Role{models.RoleAdmin}, apperrors.ErrUnauthenticated},
		{"no principal any role", context.Background(), nil, apperrors.ErrUnauthenticated},
		{"staff for admin", withRole(models.RoleStaff), []models.Role{models.RoleAdmin}, apperrors.ErrInsufficientRole},
		{"admin for admin", withRole(models.RoleAdmin), []models.Role{models.RoleAdmin}, nil},
		{"staff for admin or staff", withRole(models.RoleStaff), []models.Role{models.RoleAdmin, models.RoleStaff}, nil},
		{"user for any role", withRole(models.RoleUser), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(tt.ctx, tt.allowed)

			if tt.expectedErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.expectedErr)
			}
		})
	}
}
