package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/format"
)

const healthPingTimeout = 2 * time.Second

func (s *Server) root(c *gin.Context) {
	base := s.opts.basePath
	endpoints := gin.H{
		"tools":   base + "/tools",
		"formats": base + "/tools/{" + format.NameOpenAI + "|" + format.NameElevenLabs + "}",
		"call":    base + "/tools/call",
		"batch":   base + "/tools/batch",
		"health":  base + "/health",
	}
	if s.opts.metrics != nil {
		endpoints["metrics"] = base + s.opts.metricsPath
	}
	c.JSON(http.StatusOK, gin.H{
		"service":         ServiceName,
		"version":         s.opts.version,
		"durable_enabled": s.engine.DurableEnabled(),
		"endpoints":       endpoints,
	})
}

func (s *Server) health(c *gin.Context) {
	connected := false
	if s.engine.DurableEnabled() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		if err := s.engine.Durable().Ping(ctx); err != nil {
			s.opts.logger.Warn("durable backend ping failed", zap.Error(err))
		} else {
			connected = true
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":                    "ok",
		"tools_count":               s.engine.Registry().Len(),
		"durable_backend_connected": connected,
	})
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Describe(c.Query("profile")))
}

func (s *Server) listToolsFormat(c *gin.Context) {
	infos := s.engine.Describe(c.Query("profile"))
	switch name := c.Param("format"); name {
	case format.NameOpenAI:
		strict, _ := strconv.ParseBool(c.Query("strict"))
		c.JSON(http.StatusOK, format.OpenAI(infos, strict))
	case format.NameElevenLabs:
		c.JSON(http.StatusOK, format.ElevenLabs(infos, c.Query("tool_type")))
	default:
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "unknown tool format " + strconv.Quote(name),
			"supported_formats": format.Names(),
		})
	}
}

func (s *Server) callTool(c *gin.Context) {
	var req toolserve.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.ToolName == "" {
		badRequest(c, "tool_name is required")
		return
	}
	c.JSON(http.StatusOK, s.engine.Call(c.Request.Context(), req))
}

func (s *Server) callBatch(c *gin.Context) {
	var reqs []toolserve.CallRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(reqs) > s.opts.maxBatchSize {
		badRequest(c, "batch of "+strconv.Itoa(len(reqs))+" calls exceeds the limit of "+strconv.Itoa(s.opts.maxBatchSize))
		return
	}
	for i, req := range reqs {
		if req.ToolName == "" {
			badRequest(c, "tool_name is required (call "+strconv.Itoa(i)+")")
			return
		}
	}
	c.JSON(http.StatusOK, s.engine.CallBatch(c.Request.Context(), reqs))
}

// badRequest answers with a validation_error envelope so clients can treat it like any failed call.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, toolserve.CallResponse{
		Success:   false,
		Error:     msg,
		ErrorType: toolserve.ErrorTypeValidation,
	})
}
