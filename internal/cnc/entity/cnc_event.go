package entity

import "time"

// CncEvent CNC审计事件（只追加）
type CncEvent struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	MachineID string `json:"machine_id" gorm:"size:50;index:idx_cnc_events_machine"`
	RequestID string `json:"request_id" gorm:"size:50;index"`
	JobID     string `json:"job_id" gorm:"size:50"`

	SourceStep string `json:"source_step" gorm:"size:50;not null"` // queue/dispatch/manual_card/material/machining
	Status     string `json:"status" gorm:"size:20;not null"`      // success/failed/info
	EventType  string `json:"event_type" gorm:"size:50;not null"`  // machining_complete/machining_fail/queue_rollback等
	Message    string `json:"message" gorm:"type:text"`
	Metadata   JSONB  `json:"metadata" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
}

func (CncEvent) TableName() string {
	return "cnc_events"
}

// 事件来源
const (
	EventStepQueue      = "queue"
	EventStepDispatch   = "dispatch"
	EventStepManualCard = "manual_card"
	EventStepMaterial   = "material"
	EventStepMachining  = "machining"
)
