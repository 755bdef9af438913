package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/toolserve"
)

func TestMetrics_EngineHooks(t *testing.T) {
	m := New()
	reg := toolserve.NewRegistry()
	reg.MustRegister(toolserve.Must(toolserve.NewFuncTool("ping", "Ping", nil,
		func(context.Context, toolserve.Args) (any, error) { return "pong", nil })))
	eng := toolserve.NewEngine(reg, m.EngineOptions()...)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	ctx := context.Background()
	require.True(t, eng.Call(ctx, toolserve.CallRequest{ToolName: "ping"}).Success)
	require.True(t, eng.Call(ctx, toolserve.CallRequest{ToolName: "ping"}).Success)
	require.False(t, eng.Call(ctx, toolserve.CallRequest{ToolName: "nope-1"}).Success)
	require.False(t, eng.Call(ctx, toolserve.CallRequest{ToolName: "nope-2"}).Success)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ToolCalls.WithLabelValues("ping", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ToolCalls.WithLabelValues(unknownTool, "tool_not_found")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.ToolCallsRunning), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.ToolCalls), "unknown names share one series")
}

func TestMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware("/metrics"))
	r.GET("/tools/:format", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	for _, p := range []string{"/tools/openai", "/tools/elevenlabs", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.InDelta(t, 2, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/tools/:format", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")), 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "toolserve_http_requests_total")
	assert.Contains(t, body, "go_goroutines")
	assert.False(t, strings.Contains(body, `path="/metrics"`))
}

func TestMetrics_Isolated(t *testing.T) {
	a, b := New(), New()
	a.ToolsRegistered.Set(3)
	assert.InDelta(t, 0, testutil.ToFloat64(b.ToolsRegistered), 0)
}
