package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pdpwatch/internal/auth"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// queryDuration reads a duration query parameter, falling back to def when
// it is absent. Non-positive values are rejected.
func queryDuration(c *gin.Context, key string, def time.Duration) (time.Duration, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// caller is the authenticated username, or "" without authentication.
func caller(c *gin.Context) string {
	if v, ok := c.Get(string(auth.ResultKey)); ok {
		if res, ok := v.(*auth.AuthResult); ok {
			return res.Username
		}
	}
	return ""
}
