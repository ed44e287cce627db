// Package source 帧来源：MQTT 摄像头帧主题、循环视频文件
package source

import (
	"fmt"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/mqtt"
	"wisefido-fall/internal/pipeline"

	"go.uber.org/zap"
)

// MQTTSource 订阅摄像头帧主题（JPEG 负载），写入单槽帧缓冲
type MQTTSource struct {
	subscriber mqtt.Subscriber
	topic      string
	qos        byte
	deviceID   string
	slot       *pipeline.LatestFrame
	logger     *zap.Logger
}

// NewMQTTSource 创建 MQTT 帧来源
func NewMQTTSource(subscriber mqtt.Subscriber, topic string, qos byte, deviceID string, slot *pipeline.LatestFrame, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		subscriber: subscriber,
		topic:      topic,
		qos:        qos,
		deviceID:   deviceID,
		slot:       slot,
		logger:     logger,
	}
}

// Start 订阅帧主题
func (s *MQTTSource) Start() error {
	if err := s.subscriber.Subscribe(s.topic, s.qos, s.handleFrame); err != nil {
		return fmt.Errorf("failed to subscribe frame topic: %w", err)
	}
	s.logger.Info("Subscribed to camera frames",
		zap.String("topic", s.topic),
		zap.String("device_id", s.deviceID),
	)
	return nil
}

// Stop 取消订阅
func (s *MQTTSource) Stop() error {
	return s.subscriber.Unsubscribe(s.topic)
}

func (s *MQTTSource) handleFrame(topic string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty frame on topic %s", topic)
	}

	s.slot.Put(models.Frame{
		DeviceID:  s.deviceID,
		Data:      append([]byte(nil), payload...),
		Timestamp: time.Now(),
	})
	return nil
}
