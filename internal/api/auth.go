package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"vault-core/internal/session"
)

const sessionContextKey = "SessionID"

// defaultTokenTTL applies when the session itself never expires.
const defaultTokenTTL = 12 * time.Hour

// SessionClaims ties a bearer token to one unlock session.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func generateToken(info session.Info, secret []byte) (string, time.Time, error) {
	expiresAt := info.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = info.StartedAt.Add(defaultTokenTTL)
	}
	claims := SessionClaims{
		SessionID: info.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   info.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(info.StartedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	return signed, expiresAt, err
}

func parseToken(tokenStr string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid && claims.SessionID != "" {
		return claims.SessionID, nil
	}
	return "", errors.New("invalid token claims")
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket upgrades.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], true
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// AuthMiddleware accepts only tokens issued for the live session. Locking,
// expiry or a new unlock invalidates every earlier token.
func AuthMiddleware(secret []byte, sess *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing or malformed Authorization header",
			})
			return
		}

		sessionID, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}
		if !sess.IsCurrent(sessionID) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "NOT_UNLOCKED",
				"error": "session is locked",
			})
			return
		}

		c.Set(sessionContextKey, sessionID)
		c.Next()
	}
}
