package client

import (
	"github.com/loykin/pdpwatch/internal/auth"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

// Wire types shared with the admin API.
type (
	Status = watchdog.Status
	Stats  = watchdog.Stats
	Token  = auth.Token
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET {base}/healthz.
type HealthResponse struct {
	Name    string         `json:"name"`
	Healthy bool           `json:"healthy"`
	State   watchdog.State `json:"state"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
