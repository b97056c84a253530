package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Job 队列中的一个加工任务
// 机台加工队列以整体JSONB数组形式存储在machine行上，数组顺序即基础执行顺序
type Job struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"` // file/requested_file/manual_file
	FileName    string      `json:"fileName"`
	BridgePath  string      `json:"bridgePath"`
	S3Key       string      `json:"s3Key,omitempty"`
	S3Bucket    string      `json:"s3Bucket,omitempty"`
	FileSize    int64       `json:"fileSize,omitempty"`
	ContentType string      `json:"contentType,omitempty"`
	RequestID   string      `json:"requestId,omitempty"` // 指向制造订单的非拥有引用
	Qty         int         `json:"qty"`
	Paused      bool        `json:"paused"`
	Priority    JobPriority `json:"priority"`
	Source      string      `json:"source"` // smart_enqueue/manual_insert/manual_upload/manual_replace/smart_replace/bridge_resync
	CreatedAt   time.Time   `json:"createdAt"`
}

// Job类型
const (
	JobKindFile          = "file"
	JobKindRequestedFile = "requested_file"
	JobKindManualFile    = "manual_file"
)

// Job来源
const (
	JobSourceSmartEnqueue = "smart_enqueue"
	JobSourceSmartReplace = "smart_replace"
	JobSourceManualInsert = "manual_insert"
	JobSourceManualUpload = "manual_upload"
	JobSourceBridgeResync = "bridge_resync"
)

// JobPriority 任务优先级
// 历史数据里priority是个裸数字且经常缺失，这里收敛为显式枚举：
// 1=设备任务（equipment），其余一律视为加工任务（machining）
type JobPriority int

const (
	PriorityEquipment JobPriority = 1
	PriorityMachining JobPriority = 2
)

// UnmarshalJSON 宽松解析：缺失、非数字、非1的值都归为machining
func (p *JobPriority) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		*p = PriorityMachining
		return nil
	}
	if n, ok := raw.(float64); ok && n == 1 {
		*p = PriorityEquipment
		return nil
	}
	*p = PriorityMachining
	return nil
}

// IsEquipment 是否为设备任务
func (p JobPriority) IsEquipment() bool {
	return p == PriorityEquipment
}

// Normalize 归一化零值（新建Job未赋值时按machining处理）
func (p JobPriority) Normalize() JobPriority {
	if p == PriorityEquipment {
		return PriorityEquipment
	}
	return PriorityMachining
}

// JobList 用于PostgreSQL JSONB类型的任务数组
type JobList []Job

func (l JobList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *JobList) Scan(value interface{}) error {
	if value == nil {
		*l = JobList{}
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

// QueueSnapshot 机台队列快照：整体换入换出，最后写入者胜
// 即使桥接服务重启丢失内存队列，这份快照仍是UI侧队列状态的唯一事实来源
type QueueSnapshot struct {
	MachineID string     `json:"machineId"`
	Jobs      []Job      `json:"jobs"`
	UpdatedAt *time.Time `json:"updatedAt"`
	SyncedAt  *time.Time `json:"syncedAt"`
}

// FindJob 按ID查找任务，返回下标，未找到返回-1
func (s *QueueSnapshot) FindJob(jobID string) int {
	for i := range s.Jobs {
		if s.Jobs[i].ID == jobID {
			return i
		}
	}
	return -1
}
