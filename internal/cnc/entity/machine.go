package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JSONB 用于PostgreSQL JSONB类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(b, j)
}

// StringList 用于PostgreSQL JSONB类型的字符串数组
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(b, l)
}

// Machine CNC机台
type Machine struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	MachineID string `json:"machine_id" gorm:"size:50;uniqueIndex;not null"` // 业务主键，不可变
	Name      string `json:"name" gorm:"size:100"`
	Status    string `json:"status" gorm:"size:20;default:idle"` // idle/running/alarm/offline

	// 当前装载材料
	MaterialType    string     `json:"material_type" gorm:"size:50"`
	HeatNo          string     `json:"heat_no" gorm:"size:50"`
	Diameter        float64    `json:"diameter" gorm:"type:decimal(6,2)"`
	DiameterGroup   string     `json:"diameter_group" gorm:"size:10"` // 6/8/10/10+
	RemainingLength float64    `json:"remaining_length" gorm:"type:decimal(8,2)"`
	MaterialSetAt   *time.Time `json:"material_set_at"`

	MaxModelDiameterGroups  StringList `json:"max_model_diameter_groups" gorm:"type:jsonb"`
	ScheduledMaterialChange JSONB      `json:"scheduled_material_change" gorm:"type:jsonb"`

	// 手动料卡：物理机台固定两槽位预载（now/next）
	PreloadedNowID  string `json:"preloaded_now_id" gorm:"size:32"`
	PreloadedNextID string `json:"preloaded_next_id" gorm:"size:32"`
	ManualFileNames JSONB  `json:"manual_file_names" gorm:"type:jsonb"` // itemId -> fileName
	LastPlayStatus  JSONB  `json:"last_play_status" gorm:"type:jsonb"`

	// 队列快照（嵌入）
	Queue               JobList    `json:"queue" gorm:"type:jsonb"`
	QueueUpdatedAt      *time.Time `json:"queue_updated_at"`
	BridgeQueueSyncedAt *time.Time `json:"bridge_queue_synced_at"`

	// 安全开关（由机台注册模块维护，此处只读）
	AllowAutoMachining bool  `json:"allow_auto_machining" gorm:"default:false"`
	AllowJobStart      *bool `json:"allow_job_start"` // nil视为允许，显式false才禁止
	AllowProgramDelete bool  `json:"allow_program_delete" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Machine) TableName() string {
	return "cnc_machines"
}

// 直径分组
const (
	DiameterGroup6      = "6"
	DiameterGroup8      = "8"
	DiameterGroup10     = "10"
	DiameterGroup10Plus = "10+"
)

// NormalizeDiameterGroup 归一化直径分组，只接受 6/8/10/10+
func NormalizeDiameterGroup(group string) (string, error) {
	switch group {
	case "6", "6.0":
		return DiameterGroup6, nil
	case "8", "8.0":
		return DiameterGroup8, nil
	case "10", "10.0":
		return DiameterGroup10, nil
	case "10+", "10plus", "over10":
		return DiameterGroup10Plus, nil
	}
	return "", fmt.Errorf("无法识别的直径分组: %s", group)
}

// JobStartAllowed allowJobStart只有显式false才禁止
func (m *Machine) JobStartAllowed() bool {
	return m.AllowJobStart == nil || *m.AllowJobStart
}

// Snapshot 取出嵌入的队列快照
func (m *Machine) Snapshot() *QueueSnapshot {
	jobs := make([]Job, len(m.Queue))
	copy(jobs, m.Queue)
	return &QueueSnapshot{
		MachineID: m.MachineID,
		Jobs:      jobs,
		UpdatedAt: m.QueueUpdatedAt,
		SyncedAt:  m.BridgeQueueSyncedAt,
	}
}
