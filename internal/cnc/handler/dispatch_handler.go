package handler

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// DispatchHandler 智能任务处理器
type DispatchHandler struct {
	svc *service.DispatchService
}

// NewDispatchHandler 创建智能任务处理器
func NewDispatchHandler(svc *service.DispatchService) *DispatchHandler {
	return &DispatchHandler{svc: svc}
}

func bindSmartInput(c *gin.Context) (*service.SmartJobInput, bool) {
	var in service.SmartJobInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return nil, false
	}
	return &in, true
}

// respondSmart 202异步受理与同步结果统一走200+归一化结果体
func respondSmart(c *gin.Context, result interface{}, err error) {
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// Upload POST /machines/:machineId/smart/upload
func (h *DispatchHandler) Upload(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.Upload(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// Enqueue POST /machines/:machineId/smart/enqueue
func (h *DispatchHandler) Enqueue(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.Enqueue(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// Dequeue POST /machines/:machineId/smart/dequeue
func (h *DispatchHandler) Dequeue(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.Dequeue(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// Replace POST /machines/:machineId/smart/replace
func (h *DispatchHandler) Replace(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.Replace(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// Start POST /machines/:machineId/smart/start
func (h *DispatchHandler) Start(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.Start(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// Status GET /machines/:machineId/smart/status
func (h *DispatchHandler) Status(c *gin.Context) {
	result, err := h.svc.Status(c.Request.Context(), c.Param("machineId"))
	respondSmart(c, result, err)
}

// JobResult GET /machines/:machineId/smart/jobs/:jobId
func (h *DispatchHandler) JobResult(c *gin.Context) {
	result, err := h.svc.JobResult(c.Request.Context(), c.Param("machineId"), c.Param("jobId"))
	respondSmart(c, result, err)
}

// ContinuousEnqueue POST /machines/:machineId/continuous/enqueue
func (h *DispatchHandler) ContinuousEnqueue(c *gin.Context) {
	in, ok := bindSmartInput(c)
	if !ok {
		return
	}
	result, err := h.svc.ContinuousEnqueue(c.Request.Context(), c.Param("machineId"), in)
	respondSmart(c, result, err)
}

// ContinuousState GET /machines/:machineId/continuous/state
func (h *DispatchHandler) ContinuousState(c *gin.Context) {
	result, err := h.svc.ContinuousState(c.Request.Context(), c.Param("machineId"))
	respondSmart(c, result, err)
}
