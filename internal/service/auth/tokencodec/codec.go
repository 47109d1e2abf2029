// Package tokencodec signs and verifies access tokens.
//
// Tokens are compact JWTs signed with one shared symmetric secret. The signing
// method is chosen once in New and the verifier accepts only that method, so a
// token can never pick its own algorithm.
package tokencodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

const defaultSigningMethod = "HS256"

type Config struct {
	// Shared secret to sign and verify tokens
	// Required to be set
	Secret string

	// JWT MAC (Message Authentication Code) algorithm: HS256, HS384 or HS512
	// If not set than default is used
	Alg string

	// Fixed 'iss' and 'aud' values, checked on verification
	// Required to be set
	Issuer   string
	Audience string
}

// Wire format of access token claims
type accessClaims struct {
	jwt.RegisteredClaims
	Role     models.Role `json:"role"`
	Email    string      `json:"email,omitempty"`
	Username string      `json:"username,omitempty"`
}

// Claims of verified (or unsafely decoded) token
type Claims struct {
	models.Principal

	ID        string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Codec struct {
	key      []byte
	method   jwt.SigningMethod
	issuer   string
	audience string

	parser *jwt.Parser
	now    func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, apperrors.ErrSecretMisconfigured
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer and audience must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	method, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC methods allowed", cfg.Alg)
	}

	c := &Codec{
		key:      []byte(cfg.Secret),
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)

	return c, nil
}

// Alg returns the only signing method the codec accepts
func (c *Codec) Alg() string {
	return c.method.Alg()
}

// Encode signs principal claims valid for ttl since now.
// Zero or negative ttl produces already expired token.
func (c *Codec) Encode(p models.Principal, ttl time.Duration) (models.IssuedToken, error) {
	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(c.method, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID.String(),
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:     p.Role,
		Email:    p.Email,
		Username: p.Username,
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, exp, nbf, iat, iss and aud.
// Errors are apperrors.ErrExpiredToken, apperrors.ErrNotYetValid or apperrors.ErrInvalidSignature;
// library error text is not exposed.
func (c *Codec) Verify(token string) (Claims, error) {
	claims := &accessClaims{}

	_, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	result, err := fromWire(claims)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "bad subject")
	}

	return result, nil
}

// DecodeUnsafe returns claims WITHOUT checking signature or expiry.
// Never use the result for authentication or authorization: introspection and debugging only.
func (c *Codec) DecodeUnsafe(token string) (Claims, error) {
	claims := &accessClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "not a token")
	}

	result, err := fromWire(claims)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "bad subject")
	}

	return result, nil
}

// RemainingSeconds returns seconds until token expiry, 0 if token unparsable or expired.
// Signature is not checked.
func (c *Codec) RemainingSeconds(token string) int64 {
	claims := &accessClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}

	remaining := int64(claims.ExpiresAt.Sub(c.now()).Seconds())
	return max(remaining, 0)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return apperrors.ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "signature")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSignature, "foreign issuer or audience")
	default:
		return apperrors.ErrInvalidSignature
	}
}

func fromWire(c *accessClaims) (Claims, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Claims{}, err
	}

	result := Claims{
		Principal: models.Principal{
			UserID:   userID,
			Role:     c.Role,
			Email:    c.Email,
			Username: c.Username,
		},
		ID:       c.ID,
		Issuer:   c.Issuer,
		Audience: c.Audience,
	}
	if c.IssuedAt != nil {
		result.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		result.ExpiresAt = c.ExpiresAt.Time
	}

	return result, nil
}
