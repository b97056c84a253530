package repository

import (
	"context"
	"errors"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MachiningRecordRepository 加工记录仓库
type MachiningRecordRepository struct {
	db *gorm.DB
}

// NewMachiningRecordRepository 创建加工记录仓库
func NewMachiningRecordRepository(db *gorm.DB) *MachiningRecordRepository {
	return &MachiningRecordRepository{db: db}
}

// EnsureRunning 取出(requestId, jobId)的执行中记录，不存在则创建
// startedAt固定为首见时间，后续tick据此重算elapsed，乱序/重复tick可自纠
func (r *MachiningRecordRepository) EnsureRunning(ctx context.Context, machineID, requestID, jobID string) (*entity.MachiningRecord, error) {
	var rec entity.MachiningRecord
	err := r.db.WithContext(ctx).
		Where("request_id = ? AND job_id = ? AND status = ?", requestID, jobID, entity.MachiningStatusRunning).
		First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	rec = entity.MachiningRecord{
		ID:        uuid.New().String()[:32],
		RequestID: requestID,
		MachineID: machineID,
		JobID:     jobID,
		Status:    entity.MachiningStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateProgress 更新进度
func (r *MachiningRecordRepository) UpdateProgress(ctx context.Context, id, phase string, percent float64, elapsedSeconds int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.MachiningRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"phase":           phase,
			"percent":         percent,
			"elapsed_seconds": elapsedSeconds,
			"last_tick_at":    now,
		}).Error
}

// MarkCompleted 标记完成（重复投递时写入相同终值，不会造成破坏）
func (r *MachiningRecordRepository) MarkCompleted(ctx context.Context, requestID, jobID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.MachiningRecord{}).
		Where("request_id = ? AND job_id = ? AND status = ?", requestID, jobID, entity.MachiningStatusRunning).
		Updates(map[string]interface{}{
			"status":       entity.MachiningStatusCompleted,
			"percent":      100,
			"completed_at": now,
		}).Error
}

// MarkFailed 标记失败
func (r *MachiningRecordRepository) MarkFailed(ctx context.Context, requestID, jobID, reason string, alarms []string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.MachiningRecord{}).
		Where("request_id = ? AND job_id = ? AND status = ?", requestID, jobID, entity.MachiningStatusRunning).
		Updates(map[string]interface{}{
			"status":       entity.MachiningStatusFailed,
			"fail_reason":  reason,
			"alarms":       entity.StringList(alarms),
			"completed_at": now,
		}).Error
}

// ListByMachine 按机台查询加工记录
func (r *MachiningRecordRepository) ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.MachiningRecord, int64, error) {
	var items []entity.MachiningRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.MachiningRecord{}).
		Where("machine_id = ?", machineID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("started_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}
