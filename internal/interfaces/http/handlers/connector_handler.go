package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/service"
)

// ConnectorHandler 连接实例管理（状态由外部轮询器写入）
type ConnectorHandler struct {
	registry *service.ConnectorRegistry
	logger   *zap.Logger
}

func NewConnectorHandler(registry *service.ConnectorRegistry, logger *zap.Logger) *ConnectorHandler {
	return &ConnectorHandler{registry: registry, logger: logger}
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type ActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// List GET /api/v1/connectors
func (h *ConnectorHandler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]ConnectorView, 0, len(list))
	for _, inst := range list {
		out = append(out, toConnectorView(inst))
	}
	c.JSON(http.StatusOK, gin.H{"connectors": out})
}

// Get GET /api/v1/connectors/:id
func (h *ConnectorHandler) Get(c *gin.Context) {
	inst, err := h.registry.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toConnectorView(inst))
}

// SetStatus PUT /api/v1/connectors/:id/status
func (h *ConnectorHandler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetStatus(c.Request.Context(), c.Param("id"), entity.ConnectorStatus(req.Status)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

// SetActive PUT /api/v1/connectors/:id/active
func (h *ConnectorHandler) SetActive(c *gin.Context) {
	var req ActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "active": *req.Active})
}
