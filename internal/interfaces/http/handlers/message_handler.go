package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/repository"
)

type MessageHandler struct {
	messages   repository.MessageRepository
	dispatcher *usecase.ResponseDispatcher
	logger     *zap.Logger
}

func NewMessageHandler(messages repository.MessageRepository, dispatcher *usecase.ResponseDispatcher, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		messages:   messages,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Get GET /api/v1/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	msg, err := h.messages.FindByMessageID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toMessageView(msg))
}

// Resend POST /api/v1/messages/:id/resend 使用保留的回复重新发送
func (h *MessageHandler) Resend(c *gin.Context) {
	msg, err := h.dispatcher.Resend(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toMessageView(msg))
}
