// Package inference 远程目标检测 / 姿态估计模型客户端
package inference

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/pose"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	detectPath   = "/v1/detect"
	estimatePath = "/v1/pose"
)

// DetectResponse 检测服务响应
type DetectResponse struct {
	Objects []models.DetectedObject `json:"objects"`
}

// RawPose 估计服务返回的单个人体关键点
type RawPose struct {
	Keypoints map[string]models.Keypoint `json:"keypoints"`
}

// EstimateResponse 估计服务响应
type EstimateResponse struct {
	Poses  []RawPose   `json:"poses"`
	Origin pose.Origin `json:"origin"`
}

// errorResponse 模型服务错误响应
type errorResponse struct {
	Error string `json:"error"`
}

// Client 推理服务客户端
// 同时实现 pipeline.ObjectDetector 和 pipeline.PoseEstimator
type Client struct {
	detector  *resty.Client
	estimator *resty.Client
	logger    *zap.Logger
}

// NewClient 创建推理客户端
// detectorURL / estimatorURL 可以指向同一个服务
func NewClient(detectorURL, estimatorURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		detector:  newRestyClient(detectorURL, timeout),
		estimator: newRestyClient(estimatorURL, timeout),
		logger:    logger,
	}
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	// 单帧推理不重试：下一帧很快就到
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "image/jpeg").
		SetHeader("Accept", "application/json")
}

// Detect 对一帧做目标检测
func (c *Client) Detect(ctx context.Context, frame models.Frame) ([]models.DetectedObject, error) {
	var response DetectResponse
	if err := c.post(ctx, c.detector, detectPath, frame, &response); err != nil {
		return nil, fmt.Errorf("failed to detect objects: %w", err)
	}

	c.logger.Debug("Objects detected",
		zap.Uint64("frame_id", frame.ID),
		zap.Int("object_count", len(response.Objects)),
	)
	return response.Objects, nil
}

// Estimate 对一帧做姿态估计
// 画面中没有人时返回 nil, nil；多人时只取第一个
func (c *Client) Estimate(ctx context.Context, frame models.Frame) (*models.Pose, error) {
	var response EstimateResponse
	if err := c.post(ctx, c.estimator, estimatePath, frame, &response); err != nil {
		return nil, fmt.Errorf("failed to estimate pose: %w", err)
	}

	if len(response.Poses) == 0 {
		return nil, nil
	}

	origin := response.Origin
	if origin == "" {
		origin = pose.OriginTopLeft
	}
	p := pose.Build(response.Poses[0].Keypoints, origin)

	c.logger.Debug("Pose estimated",
		zap.Uint64("frame_id", frame.ID),
		zap.Int("pose_count", len(response.Poses)),
		zap.Int("keypoint_count", len(p.Keypoints())),
	)
	return &p, nil
}

func (c *Client) post(ctx context.Context, client *resty.Client, path string, frame models.Frame, result any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("frame %d has no image data", frame.ID)
	}

	var failure errorResponse
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-Device-ID", frame.DeviceID).
		SetHeader("X-Frame-ID", strconv.FormatUint(frame.ID, 10)).
		SetBody(frame.Data).
		SetResult(result).
		SetError(&failure).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to call model service: %w", err)
	}

	if resp.IsError() {
		if failure.Error != "" {
			return fmt.Errorf("model service error: %s (status: %d)", failure.Error, resp.StatusCode())
		}
		return fmt.Errorf("model service error (status: %d)", resp.StatusCode())
	}
	return nil
}
