package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/testboard/internal/dashboard"
	"github.com/loykin/testboard/internal/metrics"
	"github.com/loykin/testboard/internal/result"
)

// Router provides embeddable HTTP handlers for the dashboard.
// Endpoints:
//
//	GET {basePath}/api/data          current summary plus history
//	GET {basePath}/api/current       current summary
//	GET {basePath}/api/history       archived summaries, oldest first
//	GET {basePath}/api/history/:key  one archived summary (YYYYMMDD_HHMMSS or "YYYY-MM-DD HH:MM:SS")
//	GET {basePath}/api/ws            websocket stream of change notifications
//	GET {basePath}/api/events        server-sent events stream of the same notifications
//	GET {basePath}/metrics           prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      *dashboard.Service
	basePath string
	gatherer prometheus.Gatherer
	log      *slog.Logger
	ping     time.Duration
	upgrader websocket.Upgrader
}

// Option customizes a Router.
type Option func(*Router)

// WithMetrics exposes g on {basePath}/metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(r *Router) { r.gatherer = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithPingInterval sets the keep-alive period of live streams.
func WithPingInterval(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.ping = d
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/board" results in /board/api/data, /board/api/ws, ...
func NewRouter(svc *dashboard.Service, basePath string, opts ...Option) *Router {
	r := &Router{
		svc:      svc,
		basePath: sanitizeBase(basePath),
		log:      slog.Default(),
		ping:     30 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BasePath returns the sanitized mount point.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	api := group.Group("/api")
	api.GET("/data", r.handleData)
	api.GET("/current", r.handleCurrent)
	api.GET("/history", r.handleHistory)
	api.GET("/history/:key", r.handleHistoryKey)
	api.GET("/ws", r.handleWS)
	api.GET("/events", r.handleSSE)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	}
	return g
}

// MountEcho registers the router's handler on e under its base path.
func (r *Router) MountEcho(e *echo.Echo) {
	h := echo.WrapHandler(r.Handler())
	if r.basePath == "" {
		e.Any("/*", h)
		return
	}
	e.Any(r.basePath, h)
	e.Any(r.basePath+"/*", h)
}

// NewServer returns an http.Server for h on addr. It is not started. There is no
// write timeout because the live streams stay open.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// statusFor maps service errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrNoData), errors.Is(err, dashboard.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, result.ErrMalformed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		r.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) handleData(c *gin.Context) {
	d, err := r.svc.Data()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleCurrent(c *gin.Context) {
	rep, err := r.svc.CurrentSummary()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleHistory(c *gin.Context) {
	entries, err := r.svc.HistorySummaries()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleHistoryKey(c *gin.Context) {
	rep, err := r.svc.SummaryByKey(c.Param("key"))
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}
