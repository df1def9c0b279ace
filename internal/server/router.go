package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pdpwatch/internal/auth"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

// Supervisor is the part of a service watchdog the admin API drives.
type Supervisor interface {
	Name() string
	Status(ctx context.Context) watchdog.Status
	Stats() watchdog.Stats
	ResetStats()
	Restart(ctx context.Context) error
}

var _ Supervisor = (*watchdog.ServiceWatchdog)(nil)

const defaultRestartTimeout = 2 * time.Minute

// Router provides embeddable admin handlers for one supervised service.
// Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/stats
//	POST {basePath}/stats/reset
//	POST {basePath}/restart      query: timeout=30s (optional)
//	GET  {basePath}/healthz      200 when healthy, 503 otherwise
//	POST {basePath}/auth/login   when authentication is enabled
//	GET  /metrics                when a metrics handler is set
//
// With authentication enabled, status and stats need the read permission and
// restart and stats/reset need write. healthz, login and metrics stay open.
type Router struct {
	sup      Supervisor
	basePath string
	metrics  http.Handler
	auth     *auth.Middleware
	log      *slog.Logger
}

type Option func(*Router)

// WithMetrics mounts h at /metrics, outside the base path.
func WithMetrics(h http.Handler) Option {
	return func(r *Router) { r.metrics = h }
}

// WithAuth protects the status and control endpoints with m.
func WithAuth(m *auth.Middleware) Option {
	return func(r *Router) { r.auth = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter constructs a Router. basePath may be empty or start with '/'.
func NewRouter(sup Supervisor, basePath string, opts ...Option) *Router {
	r := &Router{sup: sup, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	if r.auth.Enabled() {
		group.POST("/auth/login", r.handleLogin)
	}

	read := r.auth.GinRequirePermission(auth.ActionRead)
	write := r.auth.GinRequirePermission(auth.ActionWrite)
	api := group.Group("", r.auth.GinAuth())
	api.GET("/status", read, r.handleStatus)
	api.GET("/stats", read, r.handleStats)
	api.POST("/stats/reset", write, r.handleResetStats)
	api.POST("/restart", write, r.handleRestart)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts. The
// caller runs ListenAndServe and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// restart may wait for termination and respawn
		WriteTimeout: defaultRestartTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	Name    string         `json:"name"`
	Healthy bool           `json:"healthy"`
	State   watchdog.State `json:"state"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Router) handleLogin(c *gin.Context) {
	var req loginReq
	if u, p, ok := c.Request.BasicAuth(); ok {
		req = loginReq{Username: u, Password: p}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "expected basic auth or a JSON body with username and password"})
		return
	}
	res, err := r.auth.Service().Authenticate(c.Request.Context(), auth.LoginRequest{
		Method:   auth.AuthMethodBasic,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil || !res.Success {
		r.log.Warn("admin api login failed", slog.String("username", req.Username))
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}
	writeJSON(c, http.StatusOK, res.Token)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Stats())
}

func (r *Router) handleResetStats(c *gin.Context) {
	r.sup.ResetStats()
	r.log.Info("stats reset via admin api", slog.String("service", r.sup.Name()), slog.String("user", caller(c)))
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	timeout, ok := queryDuration(c, "timeout", defaultRestartTimeout)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: expected a positive duration such as 30s"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	r.log.Info("restart requested via admin api", slog.String("service", r.sup.Name()), slog.String("user", caller(c)))
	if err := r.sup.Restart(ctx); err != nil {
		writeJSON(c, restartStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func restartStatus(err error) int {
	switch {
	case errors.Is(err, watchdog.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, watchdog.ErrSpawn):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.sup.Status(c.Request.Context())
	code := http.StatusOK
	healthy := st.State == watchdog.StateHealthy
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, healthResp{Name: st.Name, Healthy: healthy, State: st.State})
}
