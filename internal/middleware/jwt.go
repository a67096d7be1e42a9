package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/molekcbt/session-gateway/internal/auth"
	"github.com/molekcbt/session-gateway/internal/response"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
	// ContextKeyBearer is the Gin context key for the raw bearer token,
	// forwarded to the exam backend as the session credential.
	ContextKeyBearer = "bearer"
)

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, claims, err := extractAndVerify(c, verifier)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != auth.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyBearer, tokenStr)
		c.Next()
	}
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests, which cannot send headers.
func RequireStudentWSAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := verifier.Verify(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != auth.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyBearer, tokenStr)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *auth.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetBearer retrieves the raw bearer token from the Gin context.
func GetBearer(c *gin.Context) string {
	return c.GetString(ContextKeyBearer)
}

func extractAndVerify(c *gin.Context, verifier *auth.Verifier) (string, *auth.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = parts[1]
		}
	}

	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return "", nil, fmt.Errorf("authorization header or token query required")
	}

	claims, err := verifier.Verify(tokenStr)
	if err != nil {
		return "", nil, err
	}
	return tokenStr, claims, nil
}
