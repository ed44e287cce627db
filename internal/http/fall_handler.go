package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/redis"
	"wisefido-fall/internal/service"

	"go.uber.org/zap"
)

// FallController 摔倒检测服务接口（由 service.FallService 实现）
type FallController interface {
	AlertState() models.AlertState
	PublishedAlert(ctx context.Context) (models.AlertState, error)
	CancelAlert() models.AlertState
	RequestHelp() (models.HelpRequest, error)
	ToggleDetection(enabled bool) error
	DetectionStatus() service.DetectionStatus
	Health(ctx context.Context) map[string]string
	SubmitFrame(data []byte) uint64
}

// FallHandler 摔倒检测 Handler
type FallHandler struct {
	svc    FallController
	logger *zap.Logger
}

// NewFallHandler 创建摔倒检测 Handler
func NewFallHandler(svc FallController, logger *zap.Logger) *FallHandler {
	return &FallHandler{
		svc:    svc,
		logger: logger,
	}
}

// ToggleRequest 开关检测请求
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// GetAlert 查询当前报警状态
func (h *FallHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.AlertState()))
}

// GetPublishedAlert 查询 Redis 中缓存的报警状态，用于核对下游看到的版本
func (h *FallHandler) GetPublishedAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	state, err := h.svc.PublishedAlert(ctx)
	if err != nil {
		switch {
		case errors.Is(err, redis.ErrCacheMiss):
			writeJSON(w, http.StatusNotFound, Fail("alert state not published yet"))
		case errors.Is(err, service.ErrPublisherDisabled):
			writeJSON(w, http.StatusNotFound, Fail(err.Error()))
		default:
			h.logger.Error("Failed to read published alert state", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, Fail("failed to read published alert state"))
		}
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// CancelAlert 用户取消报警（确认没事）
func (h *FallHandler) CancelAlert(w http.ResponseWriter, r *http.Request) {
	state := h.svc.CancelAlert()
	h.logger.Info("Fall alert cancelled via API",
		zap.Uint64("version", state.Version),
	)
	writeJSON(w, http.StatusOK, Ok(state))
}

// RequestHelp 用户请求帮助
func (h *FallHandler) RequestHelp(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.RequestHelp()
	if err != nil {
		if errors.Is(err, alert.ErrNoActiveAlert) {
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to request help", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to request help"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(req))
}

// GetDetection 查询检测状态（运行标志、连续帧计数、最近评估）
func (h *FallHandler) GetDetection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.svc.DetectionStatus()))
}

// ToggleDetection 开启/关闭检测
func (h *FallHandler) ToggleDetection(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, Fail("enabled is required"))
		return
	}

	if err := h.svc.ToggleDetection(*req.Enabled); err != nil {
		h.logger.Error("Failed to toggle detection",
			zap.Bool("enabled", *req.Enabled),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.svc.DetectionStatus()))
}

// FrameResponse 推帧响应
type FrameResponse struct {
	FrameID uint64 `json:"frame_id"`
}

// SubmitFrame 推送一帧 JPEG 图像（body 为原始 JPEG）
func (h *FallHandler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read frame"))
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("empty frame"))
		return
	}

	id := h.svc.SubmitFrame(data)
	writeJSON(w, http.StatusOK, Ok(FrameResponse{FrameID: id}))
}

// HealthCheck 健康检查端点
func (h *FallHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	services := h.svc.Health(ctx)
	for _, s := range services {
		if s != "healthy" && s != "not configured" {
			status = "unhealthy"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, HealthCheckResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
	})
}
