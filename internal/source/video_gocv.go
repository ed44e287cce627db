//go:build gocv

package source

import (
	"context"
	"fmt"
	"time"

	"wisefido-fall/internal/models"
	"wisefido-fall/internal/pipeline"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// VideoSource 循环播放视频文件，按 FPS 把 JPEG 帧写入帧缓冲
type VideoSource struct {
	path     string
	fps      int
	deviceID string
	slot     *pipeline.LatestFrame
	logger   *zap.Logger
}

// NewVideoSource 创建视频帧来源
func NewVideoSource(path string, fps int, deviceID string, slot *pipeline.LatestFrame, logger *zap.Logger) (*VideoSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps: %d", fps)
	}
	return &VideoSource{
		path:     path,
		fps:      fps,
		deviceID: deviceID,
		slot:     slot,
		logger:   logger,
	}, nil
}

// Run 读取视频直到 ctx 取消；读到结尾时回到第一帧
func (s *VideoSource) Run(ctx context.Context) error {
	capture, err := gocv.OpenVideoCapture(s.path)
	if err != nil {
		return fmt.Errorf("failed to open video %s: %w", s.path, err)
	}
	defer capture.Close()

	img := gocv.NewMat()
	defer img.Close()

	s.logger.Info("Video source started",
		zap.String("path", s.path),
		zap.Int("fps", s.fps),
	)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	emptyReads := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := capture.Read(&img); !ok || img.Empty() {
			// 视频结束，回到开头
			emptyReads++
			if emptyReads > 1 {
				return fmt.Errorf("no frames readable from %s", s.path)
			}
			capture.Set(gocv.VideoCapturePosFrames, 0)
			continue
		}
		emptyReads = 0

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			s.logger.Warn("Failed to encode frame", zap.Error(err))
			continue
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		s.slot.Put(models.Frame{
			DeviceID:  s.deviceID,
			Data:      data,
			Timestamp: time.Now(),
		})
	}
}
