package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/config"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/mqtt"

	"go.uber.org/zap"
)

// MQTTPublisher 报警状态（保留消息）+ 求助事件
type MQTTPublisher struct {
	client     mqtt.Publisher
	qos        byte
	alertTopic string
	helpTopic  string
	builder    *alert.EventBuilder
	worker     *worker
	logger     *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 发布器
func NewMQTTPublisher(cfg config.MQTTConfig, deviceID string, client mqtt.Publisher, queueSize int, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:     client,
		qos:        cfg.QoS,
		alertTopic: cfg.Topic(cfg.AlertTopic, deviceID),
		helpTopic:  cfg.Topic(cfg.HelpTopic, deviceID),
		builder:    alert.NewEventBuilder(deviceID),
		worker:     newWorker("mqtt", queueSize, logger),
		logger:     logger,
	}
}

// OnAlertChanged 实现 alert.ChangeFunc
// 以保留消息发布，新订阅者立即拿到当前状态
func (p *MQTTPublisher) OnAlertChanged(state models.AlertState) {
	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("Failed to marshal alert state", zap.Error(err))
		return
	}

	p.worker.enqueue("state", func(ctx context.Context) error {
		return p.client.Publish(p.alertTopic, p.qos, true, payload)
	})
}

// OnHelpRequested 实现 alert.HelpFunc
func (p *MQTTPublisher) OnHelpRequested(req models.HelpRequest) {
	event, err := p.builder.FromHelpRequest(req)
	if err != nil {
		p.logger.Error("Failed to build help event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal help event", zap.Error(err))
		return
	}

	p.worker.enqueue(event.EventType, func(ctx context.Context) error {
		if err := p.client.Publish(p.helpTopic, p.qos, false, payload); err != nil {
			return fmt.Errorf("failed to publish help request: %w", err)
		}
		p.logger.Info("Help request published",
			zap.String("topic", p.helpTopic),
			zap.String("event_id", event.EventID),
		)
		return nil
	})
}

// Run 启动 worker，阻塞到 ctx 取消
func (p *MQTTPublisher) Run(ctx context.Context) {
	p.worker.run(ctx)
}

// Stats 发布统计
func (p *MQTTPublisher) Stats() Stats {
	return p.worker.stats()
}
