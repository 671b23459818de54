package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/domain/repository"
	"github.com/ngoclaw/wagent/internal/domain/service"
)

// SessionHandler 会话查询与人工接管
type SessionHandler struct {
	sessions *service.SessionManager
	messages repository.MessageRepository
	logger   *zap.Logger
}

func NewSessionHandler(sessions *service.SessionManager, messages repository.MessageRepository, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages, logger: logger}
}

type TransitionRequest struct {
	To string `json:"to" binding:"required,oneof=human ai closed"`
}

// List GET /api/v1/sessions?instance_id=&status=&limit=&offset=
func (h *SessionHandler) List(c *gin.Context) {
	instanceID := c.Query("instance_id")
	if instanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance_id is required"})
		return
	}
	var status entity.SessionStatus
	if s := c.Query("status"); s != "" {
		parsed, err := entity.ParseSessionStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	}
	sessions, err := h.sessions.List(c.Request.Context(), instanceID, status, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionView(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Get GET /api/v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}

// Messages GET /api/v1/sessions/:id/messages
func (h *SessionHandler) Messages(c *gin.Context) {
	msgs, err := h.messages.ListBySession(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// Transition POST /api/v1/sessions/:id/transition
func (h *SessionHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		session *entity.ChatSession
		err     error
	)
	switch entity.SessionStatus(req.To) {
	case entity.SessionHuman:
		session, err = h.sessions.TransitionToHuman(ctx, id)
	case entity.SessionAI:
		session, err = h.sessions.TransitionToAI(ctx, id)
	default:
		session, err = h.sessions.Close(ctx, id)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toSessionView(session))
}
