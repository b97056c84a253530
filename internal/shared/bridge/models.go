package bridge

// QueueJob 桥接侧队列任务
type QueueJob struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	FileName string `json:"fileName"`
	Qty      int    `json:"qty"`
	Paused   bool   `json:"paused"`
	Priority int    `json:"priority,omitempty"`
}

// QueueResponse 队列读取响应
type QueueResponse struct {
	MachineID string     `json:"machineId"`
	Jobs      []QueueJob `json:"jobs"`
}

// QtyPatch 数量修改
type QtyPatch struct {
	JobID string `json:"jobId"`
	Qty   int    `json:"qty"`
}

// PausePatch 暂停状态修改
type PausePatch struct {
	JobID  string `json:"jobId"`
	Paused bool   `json:"paused"`
}

// SmartJobRequest 智能任务请求（upload/enqueue/dequeue/replace/start共用）
type SmartJobRequest struct {
	Paths  []string `json:"paths,omitempty"`
	Path   string   `json:"path,omitempty"`
	Qty    int      `json:"qty,omitempty"`
	Paused bool     `json:"paused,omitempty"`
}

// SmartJobResult 智能任务归一化结果
// 桥接服务可能同步返回结果体，也可能202受理后通过回调异步完成
type SmartJobResult struct {
	Accepted bool                   `json:"accepted"` // true表示202异步受理
	JobID    string                 `json:"jobId,omitempty"`
	Body     map[string]interface{} `json:"body,omitempty"`
}

// MachineStatus 桥接侧机台状态
type MachineStatus struct {
	MachineID string `json:"machineId"`
	State     string `json:"state"` // online/idle/run/ready/alarm/offline
	Program   string `json:"program,omitempty"`
	Alarm     string `json:"alarm,omitempty"`
}

// MaterialPush 材料变更通知
type MaterialPush struct {
	MaterialType    string  `json:"materialType"`
	HeatNo          string  `json:"heatNo"`
	Diameter        float64 `json:"diameter"`
	DiameterGroup   string  `json:"diameterGroup"`
	RemainingLength float64 `json:"remainingLength"`
}

// ActiveProgram 机台当前活动程序
type ActiveProgram struct {
	MachineID string `json:"machineId"`
	Program   string `json:"program"`
	Path      string `json:"path"`
}

// ContinuousState 连续加工模式状态
type ContinuousState struct {
	MachineID string `json:"machineId"`
	Enabled   bool   `json:"enabled"`
	Remaining int    `json:"remaining"`
}
