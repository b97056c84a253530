package handler

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// MachineHandler 机台处理器
type MachineHandler struct {
	machineSvc *service.MachineService
	eventSvc   *service.EventService
	storageSvc *service.StorageService
}

// NewMachineHandler 创建机台处理器
func NewMachineHandler(services *service.Services) *MachineHandler {
	return &MachineHandler{
		machineSvc: services.Machine,
		eventSvc:   services.Event,
		storageSvc: services.Storage,
	}
}

// List GET /machines
func (h *MachineHandler) List(c *gin.Context) {
	machines, err := h.machineSvc.List(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"machines": machines})
}

// Get GET /machines/:machineId
func (h *MachineHandler) Get(c *gin.Context) {
	machine, err := h.machineSvc.Get(c.Request.Context(), c.Param("machineId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, machine)
}

// BridgeStatuses GET /machines/bridge-status
func (h *MachineHandler) BridgeStatuses(c *gin.Context) {
	statuses, err := h.machineSvc.BridgeStatuses(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"machines": statuses})
}

// ActiveProgram GET /machines/:machineId/program/active
func (h *MachineHandler) ActiveProgram(c *gin.Context) {
	prog, err := h.machineSvc.ActiveProgram(c.Request.Context(), c.Param("machineId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, prog)
}

// ListRecords GET /machines/:machineId/records
func (h *MachineHandler) ListRecords(c *gin.Context) {
	page, pageSize := GetPagination(c)
	records, total, err := h.eventSvc.ListRecords(c.Request.Context(), c.Param("machineId"), page, pageSize)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, ListResponse{
		Items: records,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: (int(total) + pageSize - 1) / pageSize,
		},
	})
}

// ExportRecords GET /machines/:machineId/records/export
func (h *MachineHandler) ExportRecords(c *gin.Context) {
	f, filename, err := h.eventSvc.ExportRecords(c.Request.Context(), c.Param("machineId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

// ListEvents GET /machines/:machineId/events
func (h *MachineHandler) ListEvents(c *gin.Context) {
	page, pageSize := GetPagination(c)
	events, total, err := h.eventSvc.ListEvents(c.Request.Context(), c.Param("machineId"), page, pageSize)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, ListResponse{
		Items: events,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: (int(total) + pageSize - 1) / pageSize,
		},
	})
}

// JobFileURL GET /machines/:machineId/queue/:jobId/file-url
func (h *MachineHandler) JobFileURL(c *gin.Context) {
	job, err := h.machineSvc.FindQueueJob(c.Request.Context(), c.Param("machineId"), c.Param("jobId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	u, err := h.storageSvc.PresignJobFile(c.Request.Context(), job)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, gin.H{"url": u})
}
