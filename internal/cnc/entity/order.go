package entity

import "time"

// ManufacturingOrder 制造订单（外部协作方实体，这里只操作生产排程相关字段）
// 订单生命周期由订单模块管理，本子系统在完工/回滚时触发阶段变更
type ManufacturingOrder struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	RequestNo string `json:"request_no" gorm:"size:50;uniqueIndex;not null"` // 形如 20250813-AB12CD34
	Stage     string `json:"stage" gorm:"size:30;default:pending"`

	// productionSchedule
	AssignedMachine string  `json:"assigned_machine" gorm:"size:50;index"`
	Diameter        float64 `json:"diameter" gorm:"type:decimal(6,2)"`
	DiameterGroup   string  `json:"diameter_group" gorm:"size:10"`
	QueuePosition   int     `json:"queue_position" gorm:"default:0"`
	NcPreloadStatus string  `json:"nc_preload_status" gorm:"size:20"` // none/queued/preloaded
	CamStatus       string  `json:"cam_status" gorm:"size:20"`        // pending/done/failed

	MachiningProgress JSONB      `json:"machining_progress" gorm:"type:jsonb"`
	ActualCompletedAt *time.Time `json:"actual_completed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ManufacturingOrder) TableName() string {
	return "manufacturing_orders"
}

// 订单阶段（本子系统关心的子集）
const (
	OrderStagePending   = "pending"
	OrderStageNcReady   = "nc_ready" // 入队前阶段，回滚目标
	OrderStageMachining = "machining"
	OrderStageMachined  = "machined"
)

// NC预载状态
const (
	NcPreloadNone      = "none"
	NcPreloadQueued    = "queued"
	NcPreloadPreloaded = "preloaded"
)
