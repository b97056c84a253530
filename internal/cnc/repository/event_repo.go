package repository

import (
	"context"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CncEventRepository 审计事件仓库（只追加）
type CncEventRepository struct {
	db *gorm.DB
}

func NewCncEventRepository(db *gorm.DB) *CncEventRepository {
	return &CncEventRepository{db: db}
}

// Create 创建审计事件
func (r *CncEventRepository) Create(ctx context.Context, ev *entity.CncEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()[:32]
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

// Log 便捷记录审计事件，写入失败忽略（审计不阻塞主流程）
func (r *CncEventRepository) Log(ctx context.Context, machineID, requestID, jobID, sourceStep, status, eventType, message string, metadata entity.JSONB) {
	ev := &entity.CncEvent{
		ID:         uuid.New().String()[:32],
		MachineID:  machineID,
		RequestID:  requestID,
		JobID:      jobID,
		SourceStep: sourceStep,
		Status:     status,
		EventType:  eventType,
		Message:    message,
		Metadata:   metadata,
	}
	r.db.WithContext(ctx).Create(ev)
}

// ListByMachine 按机台查询审计事件
func (r *CncEventRepository) ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.CncEvent, int64, error) {
	var items []entity.CncEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.CncEvent{}).
		Where("machine_id = ?", machineID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}
