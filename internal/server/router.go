// Package server exposes the capture client's status over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/streamcap/internal/health"
	"github.com/loykin/streamcap/internal/metrics"
)

// Controller is the application surface the HTTP layer drives. The
// root package implements it; keeping an interface here avoids a cycle
// and lets tests use a stub.
type Controller interface {
	Health() health.Snapshot
	Summary() string
	Reconnect() error
	Snapshot() (string, error)
}

// Router provides embeddable HTTP handlers for the capture client.
// Endpoints:
//
//	GET  {basePath}/healthz    liveness probe
//	GET  {basePath}/status     current health snapshot as JSON
//	GET  {basePath}/summary    human-readable status text
//	POST {basePath}/reconnect  force an immediate reconnection
//	POST {basePath}/snapshot   capture one still frame
//	GET  {basePath}/metrics    Prometheus metrics (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl        Controller
	basePath    string
	withMetrics bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctrl Controller, basePath string, withMetrics bool) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath), withMetrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.GET("/summary", r.handleSummary)
	group.POST("/reconnect", r.handleReconnect)
	group.POST("/snapshot", r.handleSnapshot)
	if r.withMetrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, ctrl Controller, withMetrics bool) *http.Server {
	r := NewRouter(ctrl, basePath, withMetrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.Health())
}

func (r *Router) handleSummary(c *gin.Context) {
	c.String(http.StatusOK, r.ctrl.Summary()+"\n")
}

func (r *Router) handleReconnect(c *gin.Context) {
	if err := r.ctrl.Reconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	path, err := r.ctrl.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "path": path})
}
