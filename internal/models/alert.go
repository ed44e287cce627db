package models

import "time"

// TriggerSource 报警触发来源
type TriggerSource string

const (
	TriggerSourceNone       TriggerSource = ""
	TriggerSourceClassifier TriggerSource = "classifier"
	TriggerSourcePose       TriggerSource = "pose"
)

// AlertState 摔倒报警状态快照
type AlertState struct {
	Active          bool          `json:"active"`
	Confidence      float64       `json:"confidence"`
	Source          TriggerSource `json:"source,omitempty"`
	TriggeredAt     *time.Time    `json:"triggered_at,omitempty"`
	HelpRequestedAt *time.Time    `json:"help_requested_at,omitempty"`
	Version         uint64        `json:"version"` // 每次状态变化递增
}

// HelpRequest 用户请求帮助的信号（仅逻辑信号，不负责实际通知）
type HelpRequest struct {
	Confidence  float64       `json:"confidence"`
	Source      TriggerSource `json:"source"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Alert event types.
const (
	EventTypeFall          = "Fall"
	EventTypeFallCancelled = "FallCancelled"
	EventTypeHelpRequested = "HelpRequested"
)

// AlertEvent 报警事件（发布到 Redis Streams / MQTT）
type AlertEvent struct {
	EventID     string    `json:"event_id"`
	DeviceID    string    `json:"device_id"`
	EventType   string    `json:"event_type"`
	Category    string    `json:"category"`     // safety
	AlarmLevel  string    `json:"alarm_level"`  // ALERT
	AlarmStatus string    `json:"alarm_status"` // active, acknowledged
	TriggeredAt time.Time `json:"triggered_at"`
	TriggerData string    `json:"trigger_data"` // JSON
}

// TriggerData 触发数据快照
type TriggerData struct {
	EventType  string        `json:"event_type"`
	Source     TriggerSource `json:"source"`
	Confidence float64       `json:"confidence"`
	Version    uint64        `json:"version"`
}
