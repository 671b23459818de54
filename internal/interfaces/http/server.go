package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/interfaces/http/handlers"
	"github.com/ngoclaw/wagent/internal/interfaces/http/middleware"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Addr         string
	Mode         string // debug, release
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // 为空时管理接口不鉴权
}

// Handlers 路由依赖; 为 nil 的处理器不注册对应路由
type Handlers struct {
	Webhook    *handlers.WebhookHandler
	Ask        *handlers.AskHandler
	Jobs       *handlers.JobHandler
	Sessions   *handlers.SessionHandler
	Connectors *handlers.ConnectorHandler
	Messages   *handlers.MessageHandler
	Debug      *handlers.DebugHandler
	Metrics    http.Handler
	Feed       http.HandlerFunc
	Health     func(ctx context.Context) map[string]string
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, h Handlers, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(cfg, h, logger),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// NewRouter 创建路由（测试直接使用）
func NewRouter(cfg Config, h Handlers, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	setupRoutes(router, cfg, h)
	return router
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, cfg Config, h Handlers) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		}
		if h.Health != nil {
			for k, v := range h.Health(c.Request.Context()) {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// 渠道 webhook 不走 JWT（由渠道侧 apikey 保护）
	if h.Webhook != nil {
		router.POST("/webhook/evolution", h.Webhook.Evolution)
	}

	auth := middleware.RequireAuth(cfg.JWTSecret)
	if h.Feed != nil {
		router.GET("/ws/events", auth, gin.WrapF(h.Feed))
	}

	// API版本1
	v1 := router.Group("/api/v1", auth)
	{
		if h.Webhook != nil {
			v1.POST("/events", h.Webhook.Event)
		}
		if h.Ask != nil {
			v1.POST("/ask", h.Ask.Ask)
		}
		if h.Jobs != nil {
			v1.GET("/jobs", h.Jobs.List)
			v1.POST("/jobs/claim", h.Jobs.Claim)
			v1.GET("/jobs/:id", h.Jobs.Get)
			v1.POST("/jobs/:id/complete", h.Jobs.Complete)
			v1.POST("/jobs/:id/fail", h.Jobs.Fail)
			v1.POST("/jobs/:id/resubmit", h.Jobs.Resubmit)
		}
		if h.Sessions != nil {
			v1.GET("/sessions", h.Sessions.List)
			v1.GET("/sessions/:id", h.Sessions.Get)
			v1.GET("/sessions/:id/messages", h.Sessions.Messages)
			v1.POST("/sessions/:id/transition", h.Sessions.Transition)
		}
		if h.Connectors != nil {
			v1.GET("/connectors", h.Connectors.List)
			v1.GET("/connectors/:id", h.Connectors.Get)
			v1.PUT("/connectors/:id/status", h.Connectors.SetStatus)
			v1.PUT("/connectors/:id/active", h.Connectors.SetActive)
		}
		if h.Messages != nil {
			v1.GET("/messages/:id", h.Messages.Get)
			v1.POST("/messages/:id/resend", h.Messages.Resend)
		}
		if h.Debug != nil {
			handlers.RegisterDebugRoutes(v1, h.Debug)
		}
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		if c.Request.URL.Query().Has("token") {
			query = "[redacted]"
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
