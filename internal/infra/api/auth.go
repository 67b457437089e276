package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const roleAdmin = "admin"

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth mints and checks HS256 bearer tokens for administrative routes.
type AdminAuth struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewAdminAuth(secret, issuer string, ttl time.Duration) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

func (a *AdminAuth) Mint(subject string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("admin jwt secret not configured")
	}
	now := time.Now()
	claims := AdminClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AdminAuth) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != roleAdmin {
		return nil, errors.New("not an admin token")
	}
	return claims, nil
}

// Require rejects requests without a valid admin bearer token.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			writeStatus(w, http.StatusForbidden, "Forbidden", "admin access is not configured")
			return
		}
		hdr := r.Header.Get("Authorization")
		if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
			writeStatus(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		if _, err := a.parse(strings.TrimSpace(hdr[7:])); err != nil {
			writeStatus(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
