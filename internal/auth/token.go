package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/vigil/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types issued by the manager.
const (
	TokenTypeSession      = "session"
	TokenTypeContinuation = "2fa_pending"
	TokenTypeReset        = "pwd_reset"
)

// Claims is the JWT payload for every token kind the manager issues.
type Claims struct {
	Type        string               `json:"typ"`
	PrincipalID string               `json:"pid"`
	Email       string               `json:"email,omitempty"`
	Kind        models.PrincipalKind `json:"kind,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager is the session/token issuer collaborator: it mints opaque
// bearer credentials for authenticated principals and the short-lived
// continuation tokens that bridge the second-factor step.
type TokenManager struct {
	secret             []byte
	sessionExpiry      time.Duration
	continuationExpiry time.Duration
	resetExpiry        time.Duration
}

func NewTokenManager(secret string, sessionExpiry, continuationExpiry, resetExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		sessionExpiry:      sessionExpiry,
		continuationExpiry: continuationExpiry,
		resetExpiry:        resetExpiry,
	}
}

// IssueSession mints a bearer token for a fully authenticated principal.
func (tm *TokenManager) IssueSession(p *models.Principal) (string, error) {
	return tm.issue(&Claims{
		Type:        TokenTypeSession,
		PrincipalID: p.ID,
		Email:       p.Email,
		Kind:        p.Kind,
	}, tm.sessionExpiry)
}

// IssueContinuation mints the token a caller must present alongside a
// second-factor code to complete a pending login.
func (tm *TokenManager) IssueContinuation(principalID string) (string, error) {
	return tm.issue(&Claims{
		Type:        TokenTypeContinuation,
		PrincipalID: principalID,
	}, tm.continuationExpiry)
}

// IssueReset mints a password-reset token. Returns the token and its JTI so
// the completing event can reference the request.
func (tm *TokenManager) IssueReset(principalID string) (string, string, error) {
	claims := &Claims{
		Type:        TokenTypeReset,
		PrincipalID: principalID,
	}
	token, err := tm.issue(claims, tm.resetExpiry)
	if err != nil {
		return "", "", err
	}
	return token, claims.ID, nil
}

func (tm *TokenManager) issue(claims *Claims, expiry time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// Validate verifies a token and checks it carries the expected type.
func (tm *TokenManager) Validate(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != wantType {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
