package handler

import (
	"io"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/gin-gonic/gin"
)

// maxManualFileSize 手动上传NC文件大小上限
const maxManualFileSize = 10 << 20 // 10MB

// ManualCardHandler 手动料卡处理器
type ManualCardHandler struct {
	svc *service.ManualCardService
}

// NewManualCardHandler 创建手动料卡处理器
func NewManualCardHandler(svc *service.ManualCardService) *ManualCardHandler {
	return &ManualCardHandler{svc: svc}
}

// Status GET /machines/:machineId/manual-card
func (h *ManualCardHandler) Status(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("machineId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, status)
}

// Upload POST /machines/:machineId/manual-card/upload
// multipart: file=NC文件, 可选 target_path
func (h *ManualCardHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传NC文件")
		return
	}
	defer file.Close()

	if header.Size > maxManualFileSize {
		BadRequest(c, "文件过大")
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxManualFileSize+1))
	if err != nil {
		InternalError(c, "读取文件失败: "+err.Error())
		return
	}

	job, err := h.svc.UploadAndPreload(c.Request.Context(), c.Param("machineId"), &service.UploadInput{
		FileName:    header.Filename,
		TargetPath:  c.PostForm("target_path"),
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, job)
}

// Preload POST /machines/:machineId/manual-card/preload
func (h *ManualCardHandler) Preload(c *gin.Context) {
	if err := h.svc.PreloadTop2(c.Request.Context(), c.Param("machineId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// Play POST /machines/:machineId/manual-card/:itemId/play
func (h *ManualCardHandler) Play(c *gin.Context) {
	if err := h.svc.Play(c.Request.Context(), c.Param("machineId"), c.Param("itemId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// Complete POST /machines/:machineId/manual-card/complete
func (h *ManualCardHandler) Complete(c *gin.Context) {
	if err := h.svc.CompleteManualFileJob(c.Request.Context(), c.Param("machineId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}
