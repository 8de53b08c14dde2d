package raidbot

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
)

const (
	pprofPrefix      = "/debug"
	apiHealthCheck   = "/healthz"
	apiStatus        = "/status"
	xRequestIDHeader = "X-Request-ID"
)

type httpReply struct {
	Message string `json:"message"`
}

// API serves the bot's health and status endpoints.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger
	bot              *RaidBot
}

// statusResponse is the /status payload.
type statusResponse struct {
	Uptime           string         `json:"uptime"`
	DiscordConnected bool           `json:"discord_connected"`
	QueueSizes       map[string]int `json:"queue_sizes"`
	RequestMetrics   map[string]int `json:"request_metrics"`
}

// newAPI initializes the API server: routes, middleware, and the underlying
// http.Server. It does not start listening.
func newAPI(bot *RaidBot, config *APIConfig) *API {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		bot:            bot,
	}
	api.logger = newLogger("api", config.LogLevel)

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiStatus, api.status)
	ginPprof.Register(r, pprofPrefix)

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	return api
}

// Serve listens on the configured address until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	err := a.httpServer.Serve(a.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, httpReply{Message: "ok"})
}

func (a *API) status(c *gin.Context) {
	a.requestMetricsMu.Lock()
	metrics := make(map[string]int, len(a.requestMetrics))
	for key, count := range a.requestMetrics {
		metrics[key] = count
	}
	a.requestMetricsMu.Unlock()

	resp := statusResponse{RequestMetrics: metrics}
	if a.bot != nil {
		resp.Uptime = time.Since(a.bot.startedAt).Round(time.Second).String()
		if a.bot.discord != nil {
			resp.DiscordConnected = a.bot.discord.Connected()
		}
		if a.bot.queues != nil {
			resp.QueueSizes = a.bot.queues.QueueSizes()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginLoggingMiddleware returns a Gin middleware function for logging HTTP
// requests: method, path, status, and duration.
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		requestID, _ := c.Get(xRequestIDHeader)
		logger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			slog.Any(xRequestIDHeader, requestID),
			slog.Group(
				"response",
				"status_code", c.Writer.Status(),
				"body_size", c.Writer.Size(),
			),
		)
	}
}

// metricMiddleware tracks request counts per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}
