package auth

import (
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

var validate = validator.New()

// Claims is what a relay token carries about its holder.
type Claims struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=150"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens for a single issuer.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	duration time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string, duration time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, duration: duration, now: time.Now}
}

// Generate returns a signed token for identity, valid for the issuer's duration.
func (i *TokenIssuer) Generate(identity domain.Identity) (string, error) {
	now := i.now()
	claims := &Claims{
		UserID:   string(identity.ID),
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.ID),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.duration)),
		},
	}
	if err := validate.Struct(claims); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Validate checks signature, algorithm, issuer and expiry, then the claims themselves.
// Every failure wraps errors.ErrInvalidToken.
func (i *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, errors.ErrInvalidToken
	}
	if err = validate.Struct(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	return claims, nil
}
