package handler

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// CallbackHandler 桥接回调处理器
// 桥接服务异步回报加工进度/完成/失败，走X-Bridge-Token认证而非JWT
type CallbackHandler struct {
	eventSvc  *service.EventService
	manualSvc *service.ManualCardService
}

// NewCallbackHandler 创建回调处理器
func NewCallbackHandler(eventSvc *service.EventService, manualSvc *service.ManualCardService) *CallbackHandler {
	return &CallbackHandler{eventSvc: eventSvc, manualSvc: manualSvc}
}

type tickRequest struct {
	MachineID string  `json:"machineId" binding:"required"`
	RequestID string  `json:"requestId" binding:"required"`
	JobID     string  `json:"jobId" binding:"required"`
	Phase     string  `json:"phase"`
	Percent   float64 `json:"percent"`
}

// Tick POST /callbacks/machining/tick
func (h *CallbackHandler) Tick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.eventSvc.Tick(c.Request.Context(), req.MachineID, req.RequestID, req.JobID, req.Phase, req.Percent); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

type completeRequest struct {
	MachineID string `json:"machineId" binding:"required"`
	RequestID string `json:"requestId" binding:"required"`
	JobID     string `json:"jobId"`
}

// Complete POST /callbacks/machining/complete
func (h *CallbackHandler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.eventSvc.Complete(c.Request.Context(), req.MachineID, req.RequestID, req.JobID); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

type failRequest struct {
	MachineID string   `json:"machineId" binding:"required"`
	RequestID string   `json:"requestId" binding:"required"`
	JobID     string   `json:"jobId"`
	Reason    string   `json:"reason"`
	Alarms    []string `json:"alarms"`
}

// Fail POST /callbacks/machining/fail
func (h *CallbackHandler) Fail(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.eventSvc.Fail(c.Request.Context(), req.MachineID, req.RequestID, req.JobID, req.Reason, req.Alarms); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// LegacyCompleted POST /callbacks/machining-completed
// 旧版桥接固件的完成回调，映射到Complete语义
func (h *CallbackHandler) LegacyCompleted(c *gin.Context) {
	var req struct {
		MachineID string `json:"machine_id" binding:"required"`
		RequestNo string `json:"request_no" binding:"required"`
		JobID     string `json:"job_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.eventSvc.Complete(c.Request.Context(), req.MachineID, req.RequestNo, req.JobID); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// ManualComplete POST /callbacks/manual-card/complete
// 手动料卡机台当前文件加工结束：弹出头部、重新预载并视开关自动播放
func (h *CallbackHandler) ManualComplete(c *gin.Context) {
	var req struct {
		MachineID string `json:"machineId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.manualSvc.CompleteManualFileJob(c.Request.Context(), req.MachineID); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}
