package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ResultKey is the context key for auth result
	ResultKey ContextKey = "auth_result"
)

// Middleware authenticates admin API requests. A nil *Middleware or one
// built from a disabled config lets every request through.
type Middleware struct {
	authService *AuthService
	enabled     bool
}

func NewMiddleware(svc *AuthService, enabled bool) *Middleware {
	return &Middleware{authService: svc, enabled: enabled && svc != nil}
}

func (m *Middleware) Enabled() bool { return m != nil && m.enabled }

// Service returns the underlying service, used by the login handler.
func (m *Middleware) Service() *AuthService {
	if m == nil {
		return nil
	}
	return m.authService
}

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		authResult, err := m.authenticate(c.Request)
		if err != nil || !authResult.Success {
			c.Header("WWW-Authenticate", `Basic realm="pdpwatch"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			return
		}

		c.Set(string(ResultKey), authResult)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires action. It
// must run after GinAuth.
func (m *Middleware) GinRequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		v, exists := c.Get(string(ResultKey))
		result, ok := v.(*AuthResult)
		if !exists || !ok || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}

		if !m.authService.HasPermission(result.Roles, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Insufficient permissions",
			})
			return
		}

		c.Next()
	}
}

// authenticate tries a bearer token first, then basic credentials.
func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.authService.Authenticate(r.Context(), LoginRequest{
				Method: AuthMethodJWT,
				Token:  strings.TrimSpace(token),
			})
		}
	}

	if username, password, ok := r.BasicAuth(); ok {
		return m.authService.Authenticate(r.Context(), LoginRequest{
			Method:   AuthMethodBasic,
			Username: username,
			Password: password,
		})
	}

	return &AuthResult{Success: false}, ErrInvalidCredentials
}
