//go:build !gocv

package source

import (
	"context"
	"fmt"

	"wisefido-fall/internal/pipeline"

	"go.uber.org/zap"
)

// VideoSource 需要 gocv 构建标签
type VideoSource struct{}

// NewVideoSource returns an error when built without the gocv tag.
func NewVideoSource(path string, fps int, deviceID string, slot *pipeline.LatestFrame, logger *zap.Logger) (*VideoSource, error) {
	return nil, fmt.Errorf("video source requires building with -tags gocv")
}

// Run is never reached without the gocv tag.
func (s *VideoSource) Run(ctx context.Context) error {
	return fmt.Errorf("video source requires building with -tags gocv")
}
