package handler

import (
	"errors"
	"strconv"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"github.com/gin-gonic/gin"
)

// Handlers CNC处理器集合
type Handlers struct {
	Machine    *MachineHandler
	Queue      *QueueHandler
	Dispatch   *DispatchHandler
	ManualCard *ManualCardHandler
	Material   *MaterialHandler
	Callback   *CallbackHandler
	SSE        *SSEHandler
}

// NewHandlers 创建CNC处理器集合
func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		Machine:    NewMachineHandler(services),
		Queue:      NewQueueHandler(services.Queue),
		Dispatch:   NewDispatchHandler(services.Dispatch),
		ManualCard: NewManualCardHandler(services.ManualCard),
		Material:   NewMaterialHandler(services.Material),
		Callback:   NewCallbackHandler(services.Event, services.ManualCard),
		SSE:        NewSSEHandler(services.Hub),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// BadGateway 桥接侧主路径调用失败，把上游状态和消息带给调用方
func BadGateway(c *gin.Context, message string) {
	Error(c, 50200, message)
}

// HandleServiceError 服务层错误到响应码的统一映射
func HandleServiceError(c *gin.Context, err error) {
	var upstream *bridge.UpstreamError
	switch {
	case errors.Is(err, service.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrMachineNotFound),
		errors.Is(err, repository.ErrNotFound):
		NotFound(c, err.Error())
	case errors.As(err, &upstream):
		BadGateway(c, upstream.Error())
	default:
		InternalError(c, err.Error())
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
