package entity

import "time"

// MachiningRecord 一次加工执行记录
// 每个(requestId, jobId)在一次执行中对应一条记录，tick/complete/fail回调更新它
type MachiningRecord struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	RequestID string `json:"request_id" gorm:"size:50;not null;index:idx_machining_req_job"`
	MachineID string `json:"machine_id" gorm:"size:50;not null;index"`
	JobID     string `json:"job_id" gorm:"size:50;not null;index:idx_machining_req_job"`

	Status string `json:"status" gorm:"size:20;default:RUNNING"` // RUNNING/COMPLETED/FAILED/CANCELED
	Phase  string `json:"phase" gorm:"size:50"`

	StartedAt   time.Time  `json:"started_at"`
	LastTickAt  *time.Time `json:"last_tick_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Percent        float64    `json:"percent" gorm:"type:decimal(5,2)"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	FailReason     string     `json:"fail_reason" gorm:"type:text"`
	Alarms         StringList `json:"alarms" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MachiningRecord) TableName() string {
	return "cnc_machining_records"
}

// 加工状态
const (
	MachiningStatusRunning   = "RUNNING"
	MachiningStatusCompleted = "COMPLETED"
	MachiningStatusFailed    = "FAILED"
	MachiningStatusCanceled  = "CANCELED"
)
