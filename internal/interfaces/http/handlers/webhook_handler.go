package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
)

// maxWebhookBody 单个 webhook 请求体上限（base64 媒体可能较大）
const maxWebhookBody = 32 << 20

// Ingestor 入站流水线
type Ingestor interface {
	Execute(ctx context.Context, ev usecase.InboundEvent) (*usecase.IngestResult, error)
}

// WebhookHandler 渠道 webhook 入口
type WebhookHandler struct {
	ingest Ingestor
	filter WebhookFilter
	logger *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(ingest Ingestor, filter WebhookFilter, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingest: ingest,
		filter: filter,
		logger: logger.With(zap.String("component", "webhook")),
	}
}

// IngestResponse 入站处理结果
type IngestResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
}

// Evolution POST /webhook/evolution
func (h *WebhookHandler) Evolution(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	ev, skip, err := ParseEvolutionWebhook(body, h.filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}
	if skip != "" {
		h.logger.Debug("Webhook ignored", zap.String("reason", skip))
		c.JSON(http.StatusOK, IngestResponse{Status: "ignored", Reason: skip})
		return
	}
	h.execute(c, ev)
}

// Event POST /api/v1/events 接收已归一化的入站事件
func (h *WebhookHandler) Event(c *gin.Context) {
	var ev usecase.InboundEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.execute(c, ev)
}

func (h *WebhookHandler) execute(c *gin.Context, ev usecase.InboundEvent) {
	res, err := h.ingest.Execute(c.Request.Context(), ev)
	if err != nil {
		// 持久化失败返回 5xx，由上游重投
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toIngestResponse(res))
}

func toIngestResponse(res *usecase.IngestResult) IngestResponse {
	out := IngestResponse{Status: string(res.Outcome), Reason: res.Reason}
	if res.Message != nil {
		out.MessageID = res.Message.MessageID()
		out.SessionID = res.Message.SessionID()
	}
	if res.Session != nil {
		out.SessionID = res.Session.ID()
	}
	if res.Job != nil {
		out.JobID = res.Job.ID()
	}
	return out
}
