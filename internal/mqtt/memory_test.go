package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"camera/cam-1/frame", "camera/cam-1/frame", true},
		{"camera/+/frame", "camera/cam-2/frame", true},
		{"camera/#", "camera/cam-2/frame", true},
		{"camera/+/frame", "camera/cam-2/audio", false},
		{"camera/cam-1", "camera/cam-1/frame", false},
		{"camera/cam-1/frame/raw", "camera/cam-1/frame", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, topicMatches(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewMemoryBroker()

	var received []string
	require.NoError(t, broker.Subscribe("fall/+/alert", 1, func(topic string, payload []byte) error {
		received = append(received, topic+"="+string(payload))
		return nil
	}))

	require.NoError(t, broker.Publish("fall/cam-1/alert", 1, true, []byte("a")))
	require.NoError(t, broker.Publish("fall/cam-1/help", 1, false, []byte("b")))

	assert.Equal(t, []string{"fall/cam-1/alert=a"}, received)
	assert.Len(t, broker.Messages(), 2)

	msg, ok := broker.Retained("fall/cam-1/alert")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), msg.Payload)
	_, ok = broker.Retained("fall/cam-1/help")
	assert.False(t, ok)

	require.NoError(t, broker.Unsubscribe("fall/+/alert"))
	require.NoError(t, broker.Publish("fall/cam-1/alert", 1, true, []byte("c")))
	assert.Len(t, received, 1)
}
