package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transfer-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAccountDisabled = errors.New("account disabled")
)

// AccountStore looks up the account behind a token
type AccountStore interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
}

// Claims carried by access tokens
type Claims struct {
	UID       string `json:"uid"`
	CompanyID string `json:"company_id"`
	BranchID  string `json:"branch_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Guard verifies HS256 bearer tokens and resolves them to a caller
type Guard struct {
	secret   []byte
	accounts AccountStore
}

// NewGuard creates a guard. accounts may be nil, in which case the token alone is trusted.
func NewGuard(secret string, accounts AccountStore) *Guard {
	return &Guard{secret: []byte(secret), accounts: accounts}
}

// Authenticate parses an Authorization header value and returns the caller
func (g *Guard) Authenticate(ctx context.Context, header string) (models.Caller, error) {
	if len(g.secret) == 0 {
		return models.Caller{}, fmt.Errorf("%w: no signing secret configured", ErrUnauthenticated)
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return models.Caller{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.UID == "" || claims.CompanyID == "" || claims.BranchID == "" {
		return models.Caller{}, fmt.Errorf("%w: token lacks uid, company_id or branch_id", ErrUnauthenticated)
	}

	caller := models.Caller{
		UID:       claims.UID,
		CompanyID: claims.CompanyID,
		BranchID:  claims.BranchID,
		Role:      claims.Role,
	}
	if g.accounts == nil {
		return caller, nil
	}

	user, err := g.accounts.GetUser(ctx, claims.UID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Caller{}, fmt.Errorf("%w: unknown account %s", ErrUnauthenticated, claims.UID)
	}
	if err != nil {
		return models.Caller{}, err
	}
	if !user.IsActive {
		return models.Caller{}, fmt.Errorf("%w: %s", ErrAccountDisabled, claims.UID)
	}

	// the account record wins over stale token claims
	caller.CompanyID = user.CompanyID
	caller.BranchID = user.BranchID
	caller.Role = user.Role
	return caller, nil
}

// Issue signs a token for a caller. Used by tooling and tests.
func (g *Guard) Issue(caller models.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:       caller.UID,
		CompanyID: caller.CompanyID,
		BranchID:  caller.BranchID,
		Role:      caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}
