package repository

import (
	"context"
	"errors"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MachineRepository 机台仓库
// 同时承担队列快照存储：快照以JSONB整体换入换出，最后写入者胜，不保留历史
type MachineRepository struct {
	db *gorm.DB
}

// NewMachineRepository 创建机台仓库
func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// List 机台列表
func (r *MachineRepository) List(ctx context.Context) ([]entity.Machine, error) {
	var machines []entity.Machine
	err := r.db.WithContext(ctx).Order("machine_id").Find(&machines).Error
	return machines, err
}

// FindByMachineID 按业务主键查找机台
func (r *MachineRepository) FindByMachineID(ctx context.Context, machineID string) (*entity.Machine, error) {
	var m entity.Machine
	err := r.db.WithContext(ctx).Where("machine_id = ?", machineID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetSnapshot 读取队列快照，机台不存在时返回空默认值（从不因缺失报错）
func (r *MachineRepository) GetSnapshot(ctx context.Context, machineID string) (*entity.QueueSnapshot, error) {
	m, err := r.FindByMachineID(ctx, machineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &entity.QueueSnapshot{MachineID: machineID, Jobs: []entity.Job{}}, nil
		}
		return nil, err
	}
	return m.Snapshot(), nil
}

// SaveSnapshot 整体替换任务数组并盖updatedAt时间戳；机台行不存在则创建
func (r *MachineRepository) SaveSnapshot(ctx context.Context, machineID string, jobs []entity.Job) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("machine_id = ?", machineID).
		Updates(map[string]interface{}{
			"queue":            entity.JobList(jobs),
			"queue_updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		m := &entity.Machine{
			ID:             uuid.New().String()[:32],
			MachineID:      machineID,
			Queue:          entity.JobList(jobs),
			QueueUpdatedAt: &now,
		}
		return r.db.WithContext(ctx).Create(m).Error
	}
	return nil
}

// MarkBridgeSynced 盖桥接同步时间戳
func (r *MachineRepository) MarkBridgeSynced(ctx context.Context, machineID string) error {
	return r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("machine_id = ?", machineID).
		Update("bridge_queue_synced_at", time.Now()).Error
}

// MaterialUpdate 材料更新字段
type MaterialUpdate struct {
	MaterialType    string
	HeatNo          string
	Diameter        float64
	DiameterGroup   string
	RemainingLength float64
}

// UpdateMaterial 更新当前装载材料
func (r *MachineRepository) UpdateMaterial(ctx context.Context, machineID string, u MaterialUpdate) error {
	res := r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("machine_id = ?", machineID).
		Updates(map[string]interface{}{
			"material_type":    u.MaterialType,
			"heat_no":          u.HeatNo,
			"diameter":         u.Diameter,
			"diameter_group":   u.DiameterGroup,
			"remaining_length": u.RemainingLength,
			"material_set_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateManualCard 持久化当前预载的两个槽位，保证状态上报幂等
func (r *MachineRepository) UpdateManualCard(ctx context.Context, machineID, nowID, nextID string) error {
	return r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("machine_id = ?", machineID).
		Updates(map[string]interface{}{
			"preloaded_now_id":  nowID,
			"preloaded_next_id": nextID,
		}).Error
}

// SetLastPlayStatus 记录最近一次播放结果
func (r *MachineRepository) SetLastPlayStatus(ctx context.Context, machineID string, status entity.JSONB) error {
	return r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("machine_id = ?", machineID).
		Update("last_play_status", status).Error
}
