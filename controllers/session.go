package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errNoSession = errors.New("no valid session")

// ResolveUserID extracts the calling user from the request. A bearer
// Authorization header wins over the session cookie; both carry the same
// HS256 token with the user id in the subject claim.
func ResolveUserID(r *http.Request) (string, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if cookie, err := r.Cookie("session"); err == nil {
		token = cookie.Value
	}
	if token == "" {
		return "", errNoSession
	}

	secret := os.Getenv("AUTH_JWT_SECRET")
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", errNoSession
	}
	return claims.Subject, nil
}
