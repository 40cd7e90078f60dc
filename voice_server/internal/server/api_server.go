package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// APIServer is the admin HTTP API of the relay
type APIServer struct {
	server *Server
	router *gin.Engine
	logger *zap.SugaredLogger
}

// NewAPIServer builds the router. Nothing listens until Serve.
func NewAPIServer(server *Server) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	api := &APIServer{
		server: server,
		router: router,
		logger: server.logger.Sugar().Named("api"),
	}
	router.Use(api.requestLogger(), gin.Recovery())
	api.setupRoutes()
	return api
}

func (api *APIServer) setupRoutes() {
	v1 := api.router.Group("/api/v1")
	if api.server.Config.APIServer.AdminPasswordHash != "" {
		v1.Use(api.basicAuth())
	}
	{
		v1.GET("/status", api.getServerStatus)

		v1.GET("/clients", api.getClients)
		v1.GET("/clients/:id", api.getClient)
		v1.DELETE("/clients/:id", api.kickClient)

		v1.GET("/logs", api.getConnectionLogs)

		v1.GET("/config", api.getConfig)
	}

	api.router.GET("/health", api.healthCheck)
	api.router.GET("/metrics", gin.WrapH(api.server.MetricsHandler()))
}

// Handler returns the router, for embedding or tests.
func (api *APIServer) Handler() http.Handler { return api.router }

// Serve listens on the configured address until ctx is done.
func (api *APIServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              api.server.Config.APIServer.ListenAddr,
		Handler:           api.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serveHTTP(ctx, srv, api.logger)
}

func (api *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		api.logger.Debugw("API request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}

// basicAuth checks HTTP basic credentials against the configured bcrypt hash.
func (api *APIServer) basicAuth() gin.HandlerFunc {
	user := api.server.Config.APIServer.AdminUser
	hash := []byte(api.server.Config.APIServer.AdminPasswordHash)

	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || u != user || bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
			api.logger.Warnw("Rejected admin API request", "remote", c.ClientIP(), "path", c.Request.URL.Path)
			c.Header("WWW-Authenticate", `Basic realm="voice-relay"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (api *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "voice-relay-server",
		"time":    time.Now().UTC(),
	})
}

func (api *APIServer) getServerStatus(c *gin.Context) {
	s := api.server
	params := s.Registry.Params()

	c.JSON(http.StatusOK, gin.H{
		"status":             "running",
		"active_clients":     s.Registry.Len(),
		"listen_addr":        s.Addr().String(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
		"sample_rate":        params.SampleRate,
		"channels":           params.Channels,
		"word_type":          params.WordType,
		"buffer_size":        params.BufferSize,
		"connlog_dropped":    s.ConnLog.Dropped(),
		"mix_interval_ms":    s.Config.MixInterval().Milliseconds(),
		"protocol_timeout_s": s.Config.Protocol.Timeout().Seconds(),
	})
}

func (api *APIServer) getClients(c *gin.Context) {
	clients := api.server.Registry.Clients()
	c.JSON(http.StatusOK, gin.H{
		"clients": clients,
		"total":   len(clients),
	})
}

func (api *APIServer) getClient(c *gin.Context) {
	client, ok := api.server.Registry.Client(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}
	c.JSON(http.StatusOK, client)
}

func (api *APIServer) kickClient(c *gin.Context) {
	clientID := c.Param("id")
	if !api.server.Kick(clientID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}

	api.logger.Infow("Client removed by administrator", "client_id", clientID)
	c.JSON(http.StatusOK, gin.H{
		"message":   "Client disconnected",
		"client_id": clientID,
	})
}

func (api *APIServer) getConnectionLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := api.server.ConnLog.Recent(c.Request.Context(), limit)
	if err != nil {
		api.logger.Errorw("Failed to read connection logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read connection logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"total": len(logs),
	})
}

// getConfig returns the server configuration without secrets
func (api *APIServer) getConfig(c *gin.Context) {
	cfg := api.server.Config
	c.JSON(http.StatusOK, gin.H{
		"listen_addr":            cfg.ListenAddr,
		"log_level":              cfg.LogLevel,
		"sound":                  cfg.Sound,
		"timeout_ms":             cfg.Protocol.TimeoutMS,
		"heartbeat_interval_ms":  cfg.Protocol.HeartbeatIntervalMS,
		"sweep_interval_ms":      cfg.Protocol.SweepIntervalMS,
		"mix_interval_ms":        cfg.MixInterval().Milliseconds(),
		"max_queued_fragments":   cfg.MaxQueuedFragments,
		"max_packets_per_second": cfg.MaxPacketsPerSecond,
		"admin_auth_enabled":     cfg.APIServer.AdminPasswordHash != "",
		"metrics_enabled":        cfg.Metrics.Enabled,
	})
}
