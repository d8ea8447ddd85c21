package auth

import (
	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/authz"
)

// TokenService issues and verifies principal access tokens.
type TokenService interface {
	GenerateToken(principalID, tenantID uuid.UUID, role authz.Role) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

var _ TokenService = (*JWTService)(nil)
