package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"wisefido-fall/internal/models"

	"github.com/google/uuid"
)

// EventBuilder 报警事件构建器
type EventBuilder struct {
	deviceID string
	now      func() time.Time
}

// NewEventBuilder 创建报警事件构建器
func NewEventBuilder(deviceID string) *EventBuilder {
	return &EventBuilder{
		deviceID: deviceID,
		now:      time.Now,
	}
}

// FromState 根据状态变化构建事件
//   - active   → Fall（active）
//   - inactive → FallCancelled（acknowledged）
func (b *EventBuilder) FromState(state models.AlertState) (*models.AlertEvent, error) {
	eventType := models.EventTypeFall
	status := "active"
	triggeredAt := b.now()
	if state.Active {
		if state.TriggeredAt != nil {
			triggeredAt = *state.TriggeredAt
		}
	} else {
		eventType = models.EventTypeFallCancelled
		status = "acknowledged"
	}

	return b.build(eventType, status, triggeredAt, &models.TriggerData{
		EventType:  eventType,
		Source:     state.Source,
		Confidence: state.Confidence,
		Version:    state.Version,
	})
}

// FromHelpRequest 根据求助信号构建事件
func (b *EventBuilder) FromHelpRequest(req models.HelpRequest) (*models.AlertEvent, error) {
	return b.build(models.EventTypeHelpRequested, "active", req.RequestedAt, &models.TriggerData{
		EventType:  models.EventTypeHelpRequested,
		Source:     req.Source,
		Confidence: req.Confidence,
	})
}

func (b *EventBuilder) build(eventType, status string, triggeredAt time.Time, triggerData *models.TriggerData) (*models.AlertEvent, error) {
	// 序列化 trigger_data
	triggerDataJSON, err := json.Marshal(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	return &models.AlertEvent{
		EventID:     uuid.New().String(),
		DeviceID:    b.deviceID,
		EventType:   eventType,
		Category:    "safety",
		AlarmLevel:  "ALERT",
		AlarmStatus: status,
		TriggeredAt: triggeredAt,
		TriggerData: string(triggerDataJSON),
	}, nil
}
