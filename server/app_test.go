package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/config"
	"github.com/skosovsky/toolserve/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8000, Mode: "test", ReadTimeout: 5, ShutdownTimeout: 5},
		Tools:  config.ToolsConfig{DefaultTimeout: 10, DefaultRetryAttempts: 1, MaxBatchSize: 10},
		Log:    config.LogConfig{Format: "json"},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: config.TracingConfig{Enabled: true},
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tools.DefaultTimeout = 0
	_, err := NewApp(cfg, toolserve.NewRegistry(), nil)
	require.Error(t, err)
}

func TestNewApp_DefaultPolicyFromConfig(t *testing.T) {
	app, err := NewApp(testConfig(), testutil.NewTestRegistry(testutil.AddTool()), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Engine().Shutdown(context.Background()) })

	tool, ok := app.Engine().Registry().Lookup("add")
	require.True(t, ok)
	p := app.Engine().EffectivePolicy(tool)
	assert.Equal(t, 10, p.TimeoutSeconds)
	assert.Equal(t, 1, p.Retry.MaxAttempts)
	assert.False(t, app.Engine().DurableEnabled(), "durable stays off unless enabled explicitly")
}

func TestApp_Serve(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BasePath = "/api"
	app, err := NewApp(cfg, testutil.NewTestRegistry(testutil.AddTool(), testutil.GreetTool()), zaptest.NewLogger(t),
		WithVersion("test"))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	hc := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := hc.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	var h map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	_ = resp.Body.Close()
	assert.Equal(t, 2.0, h["tools_count"])

	resp, err = hc.Get("http://" + ln.Addr().String() + "/api/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}

	r := app.Engine().Call(context.Background(), toolserve.CallRequest{ToolName: "add"})
	assert.Equal(t, toolserve.ErrorTypeExecution, r.ErrorType, "engine is closed after shutdown")
}
