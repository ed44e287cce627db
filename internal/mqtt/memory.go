package mqtt

import (
	"strings"
	"sync"
)

// Message 已发布的消息
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// MemoryBroker 进程内 broker，用于测试和无 MQTT 部署
// 支持 "+" 和 "#" 通配符
type MemoryBroker struct {
	mu       sync.Mutex
	handlers map[string]MessageHandler
	retained map[string]Message
	messages []Message
}

// NewMemoryBroker 创建进程内 broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		handlers: make(map[string]MessageHandler),
		retained: make(map[string]Message),
	}
}

// Publish 实现 Publisher；订阅者在调用方 goroutine 中同步收到消息
func (b *MemoryBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := Message{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	b.messages = append(b.messages, msg)
	if retained {
		b.retained[topic] = msg
	}
	var matched []MessageHandler
	for filter, handler := range b.handlers {
		if topicMatches(filter, topic) {
			matched = append(matched, handler)
		}
	}
	b.mu.Unlock()

	for _, handler := range matched {
		_ = handler(topic, msg.Payload)
	}
	return nil
}

// Subscribe 实现 Subscriber
func (b *MemoryBroker) Subscribe(topic string, qos byte, handler MessageHandler) error {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return nil
}

// Unsubscribe 实现 Subscriber
func (b *MemoryBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return nil
}

// Messages 返回所有已发布消息的副本
func (b *MemoryBroker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Retained 返回主题上的保留消息
func (b *MemoryBroker) Retained(topic string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.retained[topic]
	return msg, ok
}

// topicMatches MQTT 主题过滤匹配
func topicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
