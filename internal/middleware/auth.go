package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/fractalworks/jobsentry/internal/config"
)

// CredentialValidator decides whether a presented bearer token grants
// access to the protected trigger endpoint. Accept/reject only; no
// identity beyond that crosses the boundary.
type CredentialValidator interface {
	Validate(token string) bool
}

// SecretValidator accepts the configured cron secret (plain or
// bcrypt-hashed) and, when a JWT secret is configured, HMAC-signed admin
// tokens minted with it.
type SecretValidator struct {
	secret       string
	secretBcrypt string
	jwtSecret    []byte
}

func NewSecretValidator(cfg *config.AuthConfig) *SecretValidator {
	return &SecretValidator{
		secret:       cfg.CronSecret,
		secretBcrypt: cfg.CronSecretBcrypt,
		jwtSecret:    []byte(cfg.JWTSecret),
	}
}

func (v *SecretValidator) Validate(token string) bool {
	if token == "" {
		return false
	}

	if v.secretBcrypt != "" {
		if bcrypt.CompareHashAndPassword([]byte(v.secretBcrypt), []byte(token)) == nil {
			return true
		}
	} else if v.secret != "" {
		if subtle.ConstantTimeCompare([]byte(v.secret), []byte(token)) == 1 {
			return true
		}
	}

	if len(v.jwtSecret) > 0 {
		return v.validateJWT(token)
	}
	return false
}

func (v *SecretValidator) validateJWT(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.jwtSecret, nil
	})
	return err == nil && parsed.Valid
}

// CronAuthRequired guards the job trigger endpoint with a bearer
// credential. A missing or invalid credential is rejected before any
// store is touched.
func CronAuthRequired(validator CredentialValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		if !validator.Validate(parts[1]) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			c.Abort()
			return
		}

		c.Next()
	}
}
