package pipeline

import (
	"context"

	"wisefido-fall/internal/models"
)

// FrameSource 帧来源（只提供最新一帧，不排队）
type FrameSource interface {
	// Latest 返回最新一帧；没有帧时返回 false
	Latest() (models.Frame, bool)
}

// ObjectDetector 目标检测器（外部模型）
type ObjectDetector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.DetectedObject, error)
}

// PoseEstimator 姿态估计器（外部模型）
// 画面中没有人时返回 nil, nil
type PoseEstimator interface {
	Estimate(ctx context.Context, frame models.Frame) (*models.Pose, error)
}
