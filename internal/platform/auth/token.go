package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs access and OTP tokens with the shared HMAC key.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(key []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// IssueAccess returns a staff access token for the user.
func (i *Issuer) IssueAccess(userExternalID uuid.UUID, username, tenantID string) (string, error) {
	return i.sign(Claims{
		RegisteredClaims: i.registered(userExternalID.String()),
		TenantID:         tenantID,
		Username:         username,
		TokenType:        TokenTypeAccess,
	})
}

// IssuePatientOTP returns a token scoped to a verified phone number.
func (i *Issuer) IssuePatientOTP(phone, tenantID string) (string, error) {
	return i.sign(Claims{
		RegisteredClaims: i.registered(phone),
		TenantID:         tenantID,
		TokenType:        TokenTypePatientOTP,
		PhoneNumber:      phone,
	})
}

func (i *Issuer) registered(subject string) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
}

func (i *Issuer) sign(claims Claims) (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}

// ParseToken validates signature, expiry and (when set) issuer.
func ParseToken(tokenStr string, key []byte, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid")
	}
	return claims, nil
}
