package repository

import (
	"context"
	"errors"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"gorm.io/gorm"
)

// OrderRepository 制造订单仓库
// 订单与队列位于不同限界上下文，没有共享事务；这里的回滚/完工调用
// 是两边最终一致的显式纽带
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// FindByRequestNo 按订单号查找
func (r *OrderRepository) FindByRequestNo(ctx context.Context, requestNo string) (*entity.ManufacturingOrder, error) {
	var o entity.ManufacturingOrder
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// RollbackPreQueue 队列条目消失时把订单回滚到入队前阶段
// 清掉排程占位，避免订单卡死在加工中
func (r *OrderRepository) RollbackPreQueue(ctx context.Context, requestNo string) error {
	return r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
		Where("request_no = ?", requestNo).
		Updates(map[string]interface{}{
			"stage":             entity.OrderStageNcReady,
			"assigned_machine":  "",
			"queue_position":    0,
			"nc_preload_status": entity.NcPreloadNone,
		}).Error
}

// UpdateMachiningProgress 更新加工进度
func (r *OrderRepository) UpdateMachiningProgress(ctx context.Context, requestNo string, progress entity.JSONB) error {
	return r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
		Where("request_no = ?", requestNo).
		Updates(map[string]interface{}{
			"stage":              entity.OrderStageMachining,
			"machining_progress": progress,
		}).Error
}

// CompleteMachining 盖实际完工时间并推进订单阶段
// 重复投递时写入相同终值，幂等
func (r *OrderRepository) CompleteMachining(ctx context.Context, requestNo string) error {
	return r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
		Where("request_no = ? AND stage <> ?", requestNo, entity.OrderStageMachined).
		Updates(map[string]interface{}{
			"stage":               entity.OrderStageMachined,
			"actual_completed_at": time.Now(),
		}).Error
}

// ResequenceQueue 重算机台上已排队匹配订单的队列位置（材料变更后调用）
func (r *OrderRepository) ResequenceQueue(ctx context.Context, machineID string) error {
	var orders []entity.ManufacturingOrder
	err := r.db.WithContext(ctx).
		Where("assigned_machine = ? AND stage = ?", machineID, entity.OrderStageNcReady).
		Order("queue_position").
		Find(&orders).Error
	if err != nil {
		return err
	}
	for i := range orders {
		pos := i + 1
		if orders[i].QueuePosition == pos {
			continue
		}
		if err := r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
			Where("id = ?", orders[i].ID).
			Update("queue_position", pos).Error; err != nil {
			return err
		}
	}
	return nil
}

// FindPendingByDiameter 查找等待该精确直径的未分配待产订单（CAM重试候选）
func (r *OrderRepository) FindPendingByDiameter(ctx context.Context, diameter float64, limit int) ([]entity.ManufacturingOrder, error) {
	var orders []entity.ManufacturingOrder
	err := r.db.WithContext(ctx).
		Where("stage = ? AND (assigned_machine = '' OR assigned_machine IS NULL) AND diameter = ?",
			entity.OrderStagePending, diameter).
		Order("created_at").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// MaxQueuePosition 机台当前最大队列位置
func (r *OrderRepository) MaxQueuePosition(ctx context.Context, machineID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
		Where("assigned_machine = ?", machineID).
		Select("COALESCE(MAX(queue_position), 0)").
		Scan(&max).Error
	return max, err
}

// AssignToMachine 把订单分配到机台并设置队列位置
func (r *OrderRepository) AssignToMachine(ctx context.Context, orderID, machineID string, position int) error {
	return r.db.WithContext(ctx).Model(&entity.ManufacturingOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"stage":            entity.OrderStageNcReady,
			"assigned_machine": machineID,
			"queue_position":   position,
			"cam_status":       "pending",
		}).Error
}
