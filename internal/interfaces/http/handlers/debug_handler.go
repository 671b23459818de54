package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/infrastructure/llm"
	"github.com/ngoclaw/wagent/internal/infrastructure/monitoring"
)

// DebugHandler 调试 API 处理器
type DebugHandler struct {
	monitor   *monitoring.Monitor
	providers ProviderLister
	pools     []PoolStats
	logger    *zap.Logger
}

// ProviderLister 模型服务商状态
type ProviderLister interface {
	ListProviders(ctx context.Context) []llm.ProviderStatus
}

// PoolStats 工作池统计
type PoolStats interface {
	Name() string
	Stats() map[string]int64
}

// NewDebugHandler 创建调试处理器; providers 可为 nil
func NewDebugHandler(monitor *monitoring.Monitor, providers ProviderLister, pools []PoolStats, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		monitor:   monitor,
		providers: providers,
		pools:     pools,
		logger:    logger,
	}
}

// GetMetrics 获取性能指标
// GET /api/v1/debug/metrics
func (h *DebugHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetStats())
}

// GetDashboard 获取仪表盘数据
// GET /api/v1/debug/dashboard
func (h *DebugHandler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetDashboardData())
}

// GetProviders 模型服务商与熔断状态
// GET /api/v1/debug/providers
func (h *DebugHandler) GetProviders(c *gin.Context) {
	if h.providers == nil {
		c.JSON(http.StatusOK, gin.H{"providers": []interface{}{}, "count": 0})
		return
	}
	list := h.providers.ListProviders(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"providers": list, "count": len(list)})
}

// GetPools 工作池队列深度
// GET /api/v1/debug/pools
func (h *DebugHandler) GetPools(c *gin.Context) {
	out := make(map[string]map[string]int64, len(h.pools))
	for _, p := range h.pools {
		out[p.Name()] = p.Stats()
	}
	c.JSON(http.StatusOK, gin.H{"pools": out})
}

// GetRuntime 获取运行时信息
// GET /api/v1/debug/runtime
func (h *DebugHandler) GetRuntime(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, gin.H{
		"go_version":    runtime.Version(),
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
			"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
			"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
			"num_gc":         memStats.NumGC,
		},
		"timestamp": time.Now().Unix(),
	})
}

// RegisterDebugRoutes 注册调试路由
func RegisterDebugRoutes(router *gin.RouterGroup, handler *DebugHandler) {
	debug := router.Group("/debug")
	{
		debug.GET("/metrics", handler.GetMetrics)
		debug.GET("/dashboard", handler.GetDashboard)
		debug.GET("/providers", handler.GetProviders)
		debug.GET("/pools", handler.GetPools)
		debug.GET("/runtime", handler.GetRuntime)
	}
}
