// Package server exposes a toolserve engine over HTTP with gin: tool listings in native and
// third-party formats, single and batch calls, health, metrics and a root endpoint map.
package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/internal/metrics"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "toolserve"

// DefaultMaxBatchSize bounds POST /tools/batch unless WithMaxBatchSize says otherwise.
const DefaultMaxBatchSize = 100

// Server routes HTTP requests to an engine. It holds no global state; several servers can share a process.
type Server struct {
	engine *toolserve.Engine
	opts   options
	router *gin.Engine
}

// Option configures a Server.
type Option func(*options)

type options struct {
	basePath     string
	version      string
	logger       *zap.Logger
	metrics      *metrics.Metrics
	metricsPath  string
	maxBatchSize int
}

// WithBasePath mounts every route under p (e.g. "/api").
func WithBasePath(p string) Option {
	return func(o *options) { o.basePath = "/" + strings.Trim(p, "/") }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithLogger sets the request and error logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records request metrics in m and serves them at path (relative to the base path).
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(o *options) {
		o.metrics = m
		o.metricsPath = path
	}
}

// WithMaxBatchSize bounds the number of calls in one batch request.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// New builds the router. The engine is not owned: shutting it down is the caller's job.
func New(engine *toolserve.Engine, opts ...Option) *Server {
	o := options{logger: zap.NewNop(), version: "dev", maxBatchSize: DefaultMaxBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.basePath == "/" {
		o.basePath = ""
	}
	if o.metrics != nil && o.metricsPath == "" {
		o.metricsPath = "/metrics"
	}
	o.logger = o.logger.Named("http")
	s := &Server{engine: engine, opts: o}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), requestLogger(s.opts.logger), recovery(s.opts.logger))
	if s.opts.metrics != nil {
		r.Use(s.opts.metrics.Middleware(s.opts.basePath + s.opts.metricsPath))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	g := r.Group(s.opts.basePath)
	g.GET("/", s.root)
	g.GET("/health", s.health)
	g.GET("/tools", s.listTools)
	g.GET("/tools/:format", s.listToolsFormat)
	g.POST("/tools/call", s.callTool)
	g.POST("/tools/batch", s.callBatch)
	if s.opts.metrics != nil {
		g.GET(s.opts.metricsPath, gin.WrapH(s.opts.metrics.Handler()))
	}
	return r
}
