package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
)

// AskHandler 直接向知识库提问（调试与远程 worker 转写问答）
type AskHandler struct {
	answerer usecase.Answerer
	logger   *zap.Logger
}

func NewAskHandler(answerer usecase.Answerer, logger *zap.Logger) *AskHandler {
	return &AskHandler{answerer: answerer, logger: logger}
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

// Ask POST /api/v1/ask
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is empty"})
		return
	}
	answer, err := h.answerer.Ask(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AskResponse{Answer: answer})
}
