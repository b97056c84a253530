package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// eventChannel 跨实例事件广播用的redis频道
const eventChannel = "cnc:events"

// EventService 加工事件记录服务
// 接收桥接回调的tick/complete/fail，更新归属订单并发出实时通知
type EventService struct {
	records RecordStore
	orders  OrderStore
	events  EventStore
	hub     *sse.Hub
	redis   *redis.Client // 可为nil，nil时只走本进程SSE
	logger  *zap.Logger
}

// NewEventService 创建加工事件服务
func NewEventService(records RecordStore, orders OrderStore, events EventStore, hub *sse.Hub, rdb *redis.Client, logger *zap.Logger) *EventService {
	return &EventService{
		records: records,
		orders:  orders,
		events:  events,
		hub:     hub,
		redis:   rdb,
		logger:  logger,
	}
}

// publish 发出实时事件：本进程SSE（machine:job作用域+全局）加redis跨实例广播
func (s *EventService) publish(ctx context.Context, eventType, machineID, jobID string, payload map[string]interface{}) {
	payload["event"] = eventType
	payload["machineId"] = machineID
	payload["jobId"] = jobID
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("序列化实时事件失败", zap.Error(err))
		return
	}
	s.hub.PublishMachining(machineID, jobID, eventType, string(data))

	if s.redis != nil {
		if err := s.redis.Publish(ctx, eventChannel, data).Err(); err != nil {
			s.logger.Warn("redis事件广播失败",
				zap.String("event", eventType), zap.Error(err))
		}
	}
}

// Tick 加工进度回调
// elapsed从首见startedAt重算而不是累加增量，重复/乱序tick可自纠
func (s *EventService) Tick(ctx context.Context, machineID, requestID, jobID, phase string, percent float64) error {
	if machineID == "" || requestID == "" || jobID == "" {
		return fmt.Errorf("%w: 缺少机台ID、订单号或任务ID", ErrValidation)
	}

	rec, err := s.records.EnsureRunning(ctx, machineID, requestID, jobID)
	if err != nil {
		return err
	}
	elapsed := int64(time.Since(rec.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	if err := s.records.UpdateProgress(ctx, rec.ID, phase, percent, elapsed); err != nil {
		return err
	}

	progress := entity.JSONB{
		"machineId":      machineID,
		"jobId":          jobID,
		"phase":          phase,
		"percent":        percent,
		"elapsedSeconds": elapsed,
		"updatedAt":      time.Now().Format(time.RFC3339),
	}
	if err := s.orders.UpdateMachiningProgress(ctx, requestID, progress); err != nil {
		s.logger.Error("更新订单加工进度失败",
			zap.String("request_no", requestID), zap.Error(err))
	}

	s.publish(ctx, "machining_tick", machineID, jobID, map[string]interface{}{
		"requestId":      requestID,
		"phase":          phase,
		"percent":        percent,
		"elapsedSeconds": elapsed,
	})
	return nil
}

// Complete 加工完成回调
// 盖订单实际完工时间并推进阶段；重复投递写入相同终值，无破坏
func (s *EventService) Complete(ctx context.Context, machineID, requestID, jobID string) error {
	if machineID == "" || requestID == "" {
		return fmt.Errorf("%w: 缺少机台ID或订单号", ErrValidation)
	}

	if err := s.records.MarkCompleted(ctx, requestID, jobID); err != nil {
		s.logger.Error("标记加工记录完成失败",
			zap.String("request_no", requestID), zap.Error(err))
	}
	if err := s.orders.CompleteMachining(ctx, requestID); err != nil {
		return err
	}

	s.events.Log(ctx, machineID, requestID, jobID, entity.EventStepMachining,
		"success", "machining_complete", "加工完成", nil)
	s.publish(ctx, "machining_complete", machineID, jobID, map[string]interface{}{
		"requestId":   requestID,
		"completedAt": time.Now().Format(time.RFC3339),
	})
	return nil
}

// Fail 加工失败回调
// 只写审计事件和记录，不动订单阶段 —— 失败处理/重提由外部协作方决定
func (s *EventService) Fail(ctx context.Context, machineID, requestID, jobID, reason string, alarms []string) error {
	if machineID == "" || requestID == "" {
		return fmt.Errorf("%w: 缺少机台ID或订单号", ErrValidation)
	}

	if err := s.records.MarkFailed(ctx, requestID, jobID, reason, alarms); err != nil {
		s.logger.Error("标记加工记录失败出错",
			zap.String("request_no", requestID), zap.Error(err))
	}

	metadata := entity.JSONB{"reason": reason}
	if len(alarms) > 0 {
		metadata["alarms"] = alarms
	}
	s.events.Log(ctx, machineID, requestID, jobID, entity.EventStepMachining,
		"failed", "machining_fail", "加工失败: "+reason, metadata)
	s.publish(ctx, "machining_fail", machineID, jobID, map[string]interface{}{
		"requestId": requestID,
		"reason":    reason,
		"alarms":    alarms,
	})
	return nil
}

var recordExportHeaders = []string{
	"订单号", "任务ID", "状态", "阶段", "进度(%)", "耗时(秒)",
	"开始时间", "完成时间", "失败原因", "报警",
}

// ExportRecords 导出机台加工记录为xlsx
func (s *EventService) ExportRecords(ctx context.Context, machineID string) (*excelize.File, string, error) {
	if machineID == "" {
		return nil, "", fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	records, _, err := s.records.ListByMachine(ctx, machineID, 1, 5000)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "加工记录"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range recordExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, rec := range records {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), rec.RequestID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), rec.JobID)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), rec.Status)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), rec.Phase)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), rec.Percent)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), rec.ElapsedSeconds)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), rec.StartedAt.Format("2006-01-02 15:04:05"))
		if rec.CompletedAt != nil {
			f.SetCellValue(sheet, fmt.Sprintf("H%d", row), rec.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), rec.FailReason)
		if len(rec.Alarms) > 0 {
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), strings.Join(rec.Alarms, "; "))
		}
	}

	colWidths := []float64{20, 34, 12, 12, 10, 10, 20, 20, 30, 30}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("machining_records_%s_%s.xlsx", machineID, time.Now().Format("20060102"))
	return f, filename, nil
}

// ListRecords 分页查询加工记录
func (s *EventService) ListRecords(ctx context.Context, machineID string, page, pageSize int) ([]entity.MachiningRecord, int64, error) {
	if machineID == "" {
		return nil, 0, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return s.records.ListByMachine(ctx, machineID, page, pageSize)
}

// ListEvents 分页查询审计事件
func (s *EventService) ListEvents(ctx context.Context, machineID string, page, pageSize int) ([]entity.CncEvent, int64, error) {
	if machineID == "" {
		return nil, 0, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return s.events.ListByMachine(ctx, machineID, page, pageSize)
}
