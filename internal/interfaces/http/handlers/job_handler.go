package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	"github.com/ngoclaw/wagent/internal/domain/entity"
)

// JobHandler 媒体任务接口，远程 worker 通过它领取和提交任务
type JobHandler struct {
	queue  *usecase.JobQueue
	source *usecase.LocalJobSource
	logger *zap.Logger
}

func NewJobHandler(queue *usecase.JobQueue, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		queue:  queue,
		source: usecase.NewLocalJobSource(queue),
		logger: logger,
	}
}

type ClaimRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}

type CompleteRequest struct {
	Result string `json:"result" binding:"required"`
}

type FailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Claim POST /api/v1/jobs/claim; 无任务时返回 204
func (h *JobHandler) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := h.source.Claim(c.Request.Context(), strings.TrimSpace(req.WorkerID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Complete POST /api/v1/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.queue.Complete(c.Request.Context(), c.Param("id"), req.Result)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

// Fail POST /api/v1/jobs/:id/fail
func (h *JobHandler) Fail(c *gin.Context) {
	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.queue.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

// Resubmit POST /api/v1/jobs/:id/resubmit
func (h *JobHandler) Resubmit(c *gin.Context) {
	job, err := h.queue.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

// Get GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

// List GET /api/v1/jobs?status=pending&limit=50
func (h *JobHandler) List(c *gin.Context) {
	status := entity.JobPending
	if s := c.Query("status"); s != "" {
		parsed, err := entity.ParseJobStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	}
	jobs, err := h.queue.List(c.Request.Context(), status, queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}
