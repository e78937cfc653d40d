package apitest

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errInvalidToken = errors.New("invalid token")
	errExpiredToken = errors.New("token has expired")
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
	issuer     = "taskgate-apitest"
)

type claims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type"`
	Epoch     int    `json:"epoch"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and validates session tokens. Tokens carry the epoch
// they were issued in; bumping an epoch expires every older token.
type tokenIssuer struct {
	secret []byte

	mu           sync.Mutex
	accessEpoch  int
	refreshEpoch int
}

func newTokenIssuer(secret string) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret)}
}

func (ti *tokenIssuer) issue(userID string) (access, refresh string, err error) {
	ti.mu.Lock()
	accessEpoch, refreshEpoch := ti.accessEpoch, ti.refreshEpoch
	ti.mu.Unlock()

	access, err = ti.sign(userID, "access", accessEpoch, accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = ti.sign(userID, "refresh", refreshEpoch, refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (ti *tokenIssuer) sign(userID, tokenType string, epoch int, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		UserID:    userID,
		TokenType: tokenType,
		Epoch:     epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(ti.secret)
}

// validate returns the user id of a valid token of the given type.
func (ti *tokenIssuer) validate(raw, tokenType string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return ti.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errExpiredToken
		}
		return "", errInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.TokenType != tokenType {
		return "", errInvalidToken
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	epoch := ti.accessEpoch
	if tokenType == "refresh" {
		epoch = ti.refreshEpoch
	}
	if c.Epoch < epoch {
		return "", errExpiredToken
	}
	return c.UserID, nil
}

func (ti *tokenIssuer) expireAccess() {
	ti.mu.Lock()
	ti.accessEpoch++
	ti.mu.Unlock()
}

func (ti *tokenIssuer) revokeAll() {
	ti.mu.Lock()
	ti.accessEpoch++
	ti.refreshEpoch++
	ti.mu.Unlock()
}
