package pipeline

import (
	"sync"

	"wisefido-fall/internal/models"
)

// LatestFrame 单槽帧缓冲：新帧覆盖旧帧，迟到的帧直接丢弃
type LatestFrame struct {
	mu     sync.Mutex
	frame  models.Frame
	has    bool
	nextID uint64
}

// NewLatestFrame 创建帧缓冲
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

// Put 写入一帧；ID 为 0 时自动分配递增 ID
// 返回写入后的帧 ID
func (l *LatestFrame) Put(frame models.Frame) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if frame.ID == 0 {
		l.nextID++
		frame.ID = l.nextID
	} else if frame.ID > l.nextID {
		l.nextID = frame.ID
	}
	l.frame = frame
	l.has = true
	return frame.ID
}

// Latest 实现 FrameSource
func (l *LatestFrame) Latest() (models.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.has
}
