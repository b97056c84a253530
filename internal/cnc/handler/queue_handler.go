package handler

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// QueueHandler 队列处理器
type QueueHandler struct {
	svc *service.QueueService
}

// NewQueueHandler 创建队列处理器
func NewQueueHandler(svc *service.QueueService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

// List GET /machines/:machineId/queue
func (h *QueueHandler) List(c *gin.Context) {
	jobs, err := h.svc.List(c.Request.Context(), c.Param("machineId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"jobs": jobs})
}

// Consume POST /machines/:machineId/queue/:jobId/consume
func (h *QueueHandler) Consume(c *gin.Context) {
	job, err := h.svc.Consume(c.Request.Context(), c.Param("machineId"), c.Param("jobId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, job)
}

// Reorder PUT /machines/:machineId/queue/order
func (h *QueueHandler) Reorder(c *gin.Context) {
	var req struct {
		Order []string `json:"order" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	jobs, err := h.svc.Reorder(c.Request.Context(), c.Param("machineId"), req.Order)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"jobs": jobs})
}

// UpdateQty PATCH /machines/:machineId/queue/:jobId/qty
func (h *QueueHandler) UpdateQty(c *gin.Context) {
	var req struct {
		Qty int `json:"qty" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	job, err := h.svc.UpdateQty(c.Request.Context(), c.Param("machineId"), c.Param("jobId"), req.Qty)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, job)
}

// UpdatePause PATCH /machines/:machineId/queue/:jobId/pause
func (h *QueueHandler) UpdatePause(c *gin.Context) {
	var req struct {
		Paused *bool `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	job, err := h.svc.UpdatePause(c.Request.Context(), c.Param("machineId"), c.Param("jobId"), *req.Paused)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, job)
}

// ApplyBatch POST /machines/:machineId/queue/batch
func (h *QueueHandler) ApplyBatch(c *gin.Context) {
	var req service.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	jobs, err := h.svc.ApplyBatch(c.Request.Context(), c.Param("machineId"), &req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"jobs": jobs})
}
