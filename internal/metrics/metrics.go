// Package metrics holds the Prometheus collectors of one toolserve server. Each Metrics owns its
// registry so independent servers in a process do not share counters.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skosovsky/toolserve"
)

const namespace = "toolserve"

// unknownTool labels calls to names that are not registered, bounding label cardinality.
const unknownTool = "_unknown"

type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ToolCallsRunning prometheus.Gauge
	ToolsRegistered  prometheus.Gauge
}

// New registers the toolserve collectors plus the Go runtime and process collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (success or the error type).",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency including validation and dispatch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"tool"}),
		ToolCallsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_calls_running",
			Help:      "Tool calls currently in progress.",
		}),
		ToolsRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tools_registered",
			Help:      "Number of registered tools.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware records request count and latency per route template. Requests to skipPath are not recorded.
func (m *Metrics) Middleware(skipPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == skipPath {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// EngineOptions returns the engine hooks that feed the tool call collectors.
func (m *Metrics) EngineOptions() []toolserve.EngineOption {
	return []toolserve.EngineOption{
		toolserve.WithOnBeforeCall(func(context.Context, toolserve.CallRequest) {
			m.ToolCallsRunning.Inc()
		}),
		toolserve.WithOnAfterCall(func(_ context.Context, req toolserve.CallRequest, resp toolserve.CallResponse, d time.Duration) {
			m.ToolCallsRunning.Dec()
			tool, outcome := req.ToolName, "success"
			if !resp.Success {
				outcome = string(resp.ErrorType)
				if resp.ErrorType == toolserve.ErrorTypeToolNotFound {
					tool = unknownTool
				}
			}
			m.ToolCalls.WithLabelValues(tool, outcome).Inc()
			m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
		}),
	}
}
