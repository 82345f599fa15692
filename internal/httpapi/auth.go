package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// grantClaims is the short-lived token minted for one SSE connection so the long-lived bearer
// secret never needs to be embedded in a browser EventSource URL.
type grantClaims struct {
	JobID string `json:"job_id"`
	jwt.RegisteredClaims
}

const grantTTL = 2 * time.Minute

// BearerMiddleware rejects requests whose Authorization header doesn't bcrypt-match
// tokenHash, grounded on the teacher's pkg/middleware.AuthMiddleware's Bearer-extraction
// shape, narrowed to this surface's single static token instead of a user/JWT combination.
func BearerMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var token string
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IssueGrant mints a JWT valid for grantTTL, scoped to one job ID, for use as the SSE
// connection's query-string token.
func IssueGrant(secret []byte, jobID string) (string, error) {
	claims := grantClaims{
		JobID: jobID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(grantTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// GrantMiddleware validates the "grant" query parameter as a JWT minted by IssueGrant, scoped
// to the job_id also present on the request.
func GrantMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("grant")
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing grant"})
			c.Abort()
			return
		}
		var claims grantClaims
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired grant"})
			c.Abort()
			return
		}
		if claims.JobID != c.Query("job_id") {
			c.JSON(http.StatusForbidden, gin.H{"error": "grant does not match job_id"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// HashToken bcrypt-hashes a plaintext bearer token for storage in STATUS_TOKEN_HASH.
func HashToken(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	return string(hash), err
}
