package auth

import (
	"errors"
	"time"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodBasic AuthMethod = "basic" // username/password
	AuthMethodJWT   AuthMethod = "jwt"   // bearer token issued by Login
)

// Actions checked by HasPermission.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// Built-in roles. admin and operator may restart the PDP and reset its
// statistics; viewer may only read.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidConfig      = errors.New("invalid auth config")
)

// User is a statically configured admin API account.
type User struct {
	Username string `mapstructure:"username"`
	// PasswordHash is a bcrypt hash, see HashPassword.
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

// Config enables authentication on the admin API.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// JWTSecret signs bearer tokens. A random secret is generated when empty,
	// so tokens do not survive a restart of pdpwatch.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []User        `mapstructure:"users"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    *Token   `json:"token,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method   AuthMethod `json:"method"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"password,omitempty"`
	Token    string     `json:"token,omitempty"`
}
