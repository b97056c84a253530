package handler

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// MaterialHandler 材料处理器
type MaterialHandler struct {
	svc *service.MaterialService
}

// NewMaterialHandler 创建材料处理器
func NewMaterialHandler(svc *service.MaterialService) *MaterialHandler {
	return &MaterialHandler{svc: svc}
}

// Update PUT /machines/:machineId/material
func (h *MaterialHandler) Update(c *gin.Context) {
	var in service.MaterialInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	machine, err := h.svc.UpdateMaterial(c.Request.Context(), c.Param("machineId"), &in)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, machine)
}
