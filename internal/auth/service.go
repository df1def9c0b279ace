package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL = time.Hour
	issuer          = "pdpwatch"
)

// AuthService authenticates admin API callers against the configured users
// and issues HS256 bearer tokens.
type AuthService struct {
	users     map[string]User
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// Claims represents JWT claims
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewAuthService validates cfg. Every user needs a name, a bcrypt hash and
// at least one known role.
func NewAuthService(cfg Config) (*AuthService, error) {
	users := make(map[string]User, len(cfg.Users))
	var errs []error
	for i, u := range cfg.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
			continue
		}
		if _, dup := users[u.Username]; dup {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
			continue
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("user %q: password_hash is not a bcrypt hash", u.Username))
		}
		if len(u.Roles) == 0 {
			errs = append(errs, fmt.Errorf("user %q: at least one role is required", u.Username))
		}
		for _, r := range u.Roles {
			if _, ok := rolePermissions[r]; !ok {
				errs = append(errs, fmt.Errorf("user %q: unknown role %q", u.Username, r))
			}
		}
		users[u.Username] = u
	}
	if cfg.Enabled && len(users) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("at least one user is required when auth is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{users: users, jwtSecret: secret, tokenTTL: ttl, now: time.Now}, nil
}

// HashPassword returns the bcrypt hash to put in a user's password_hash.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Authenticate performs authentication based on the login request
func (s *AuthService) Authenticate(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	switch req.Method {
	case AuthMethodBasic:
		return s.authenticateBasic(ctx, req.Username, req.Password)
	case AuthMethodJWT:
		return s.authenticateJWT(ctx, req.Token)
	default:
		return &AuthResult{Success: false}, fmt.Errorf("unsupported auth method: %s", req.Method)
	}
}

func (s *AuthService) authenticateBasic(_ context.Context, username, password string) (*AuthResult, error) {
	if username == "" || password == "" {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}
	user, ok := s.users[username]
	if !ok {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return &AuthResult{Success: false}, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResult{Success: true, Username: user.Username, Roles: user.Roles, Token: token}, nil
}

func (s *AuthService) authenticateJWT(_ context.Context, tokenString string) (*AuthResult, error) {
	if tokenString == "" {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}
	// tokens of users removed from the config are rejected
	if _, ok := s.users[claims.Username]; !ok {
		return &AuthResult{Success: false}, ErrInvalidCredentials
	}

	return &AuthResult{Success: true, Username: claims.Username, Roles: claims.Roles}, nil
}

func (s *AuthService) generateJWT(user User) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	claims := &Claims{
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Type: "Bearer", Value: tokenString, ExpiresAt: expiresAt}, nil
}

var rolePermissions = map[string][]string{
	RoleAdmin:    {ActionRead, ActionWrite},
	RoleOperator: {ActionRead, ActionWrite},
	RoleViewer:   {ActionRead},
}

// HasPermission reports whether any of roles grants action.
func (s *AuthService) HasPermission(roles []string, action string) bool {
	for _, role := range roles {
		for _, a := range rolePermissions[role] {
			if a == action {
				return true
			}
		}
	}
	return false
}
