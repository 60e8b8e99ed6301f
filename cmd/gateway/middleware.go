package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// corsMiddleware applies the configured origin allowlist. An empty allowlist
// permits any origin, for local development.
func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case isOriginAllowed(origin, allowed):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
			default:
				http.Error(w, "CORS origin not allowed", http.StatusForbidden)
				return
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == origin {
			return true
		}
	}
	return false
}

// adminAuth validates bearer tokens on the back-office API and stamps the
// operator identity for the audit trail. An empty secret disables auth; main
// warns loudly when that happens.
func adminAuth(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				r.Header.Set("X-Admin-User", "local")
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				jsonError(w, "missing authorization", http.StatusUnauthorized)
				return
			}

			user, err := validateJWT(strings.TrimPrefix(authHeader, "Bearer "), secret)
			if err != nil {
				jsonError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			r.Header.Set("X-Admin-User", user)
			next.ServeHTTP(w, r)
		})
	}
}

// loginHandler exchanges the bootstrap credentials for a session token.
func loginHandler(secret []byte, user, password string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if len(secret) == 0 || password == "" {
			jsonError(w, "admin login is not configured", http.StatusServiceUnavailable)
			return
		}

		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if subtle.ConstantTimeCompare([]byte(payload.Username), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare(hashBytes(payload.Password), hashBytes(password)) != 1 {
			jsonError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, err := generateJWT(payload.Username, secret)
		if err != nil {
			jsonError(w, "token generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

type adminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func generateJWT(username string, secret []byte) (string, error) {
	claims := &adminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "marketplace-gateway",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func validateJWT(tokenString string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*adminClaims); ok && token.Valid {
		return claims.Username, nil
	}
	return "", fmt.Errorf("invalid token")
}

func hashBytes(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
