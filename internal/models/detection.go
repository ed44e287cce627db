package models

import "time"

// FallLabel 分类器中表示"摔倒"的标签
const FallLabel = "fall"

// BoundingBox 归一化矩形（0-1）
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedObject 目标检测结果
type DetectedObject struct {
	Label       string      `json:"label"`
	Confidence  float32     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Frame 一帧视频图像（JPEG 编码）
type Frame struct {
	ID        uint64    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Data      []byte    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}
