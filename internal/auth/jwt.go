package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig holds JWT signing and expiry configuration.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Expiry     time.Duration
}

// Claims is the payload of a publisher access token. The subject is the
// user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService issues and validates publisher access tokens.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWTService with the given configuration.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config}
}

// Predefined errors for JWT operations.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrSigningMethod  = errors.New("unexpected signing method")
)

// GenerateToken creates a signed HS256 token for the given user.
func (s *JWTService) GenerateToken(userID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a token and returns the user id it was issued for.
func (s *JWTService) ValidateToken(tokenString string) (uuid.UUID, *Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return []byte(s.config.SigningKey), nil
	}, opts...)
	if err != nil {
		return uuid.Nil, nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, nil, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, ErrTokenInvalid
	}
	return userID, claims, nil
}

// classifyJWTError maps jwt library errors to package errors.
func classifyJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return ErrTokenMalformed
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return ErrTokenInvalid
	}
	if errors.Is(err, ErrSigningMethod) {
		return ErrSigningMethod
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return ErrTokenInvalid
	}
	return fmt.Errorf("validate token: %w", err)
}
