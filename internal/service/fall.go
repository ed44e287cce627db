package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/config"
	"wisefido-fall/internal/fusion"
	"wisefido-fall/internal/inference"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/mqtt"
	"wisefido-fall/internal/pipeline"
	"wisefido-fall/internal/pose"
	"wisefido-fall/internal/publisher"
	"wisefido-fall/internal/redis"
	"wisefido-fall/internal/source"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrPublisherDisabled 未启用 Redis 发布
var ErrPublisherDisabled = errors.New("redis publisher disabled")

// MQTTClient MQTT 发布 + 订阅
type MQTTClient interface {
	mqtt.Publisher
	mqtt.Subscriber
}

// Dependencies 外部依赖（测试中可替换）
type Dependencies struct {
	Redis     *goredis.Client // nil 表示不启用 Redis 发布
	MQTT      MQTTClient      // nil 表示不启用 MQTT
	Detector  pipeline.ObjectDetector
	Estimator pipeline.PoseEstimator
}

// DetectionStatus 检测运行状态
type DetectionStatus struct {
	DeviceID   string                     `json:"device_id"`
	Running    bool                       `json:"running"`
	SessionID  string                     `json:"session_id,omitempty"`
	Engine     fusion.Status              `json:"engine"`
	Pipeline   pipeline.Stats             `json:"pipeline"`
	Publishers map[string]publisher.Stats `json:"publishers"`
}

// FallService 摔倒检测服务（整合各层）
type FallService struct {
	config *config.Config
	logger *zap.Logger
	deps   Dependencies

	// 各层组件
	machine     *alert.Machine
	engine      *fusion.Engine
	slot        *pipeline.LatestFrame
	pipeline    *pipeline.Pipeline
	redisPub    *publisher.RedisPublisher
	mqttPub     *publisher.MQTTPublisher
	mqttSource  *source.MQTTSource
	videoSource *source.VideoSource

	mu         sync.Mutex
	runCtx     context.Context
	pubCancel  context.CancelFunc
	background sync.WaitGroup
	closers    []func()
}

// NewFallService 创建摔倒检测服务并连接 Redis / MQTT
func NewFallService(cfg *config.Config, logger *zap.Logger) (*FallService, error) {
	var deps Dependencies
	var closers []func()

	// 1. 连接 Redis
	if cfg.Redis.Enabled {
		redisClient := redis.NewRedisClient(&cfg.Redis)
		if err := redis.Ping(context.Background(), redisClient); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		deps.Redis = redisClient
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Failed to close redis", zap.Error(err))
			}
		})
	}

	// 2. 连接 MQTT
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		deps.MQTT = mqttClient
		closers = append(closers, mqttClient.Disconnect)
	}

	// 3. 推理服务客户端
	client := inference.NewClient(cfg.Inference.DetectorURL, cfg.Inference.EstimatorURL, cfg.Inference.Timeout, logger)
	deps.Detector = client
	deps.Estimator = client

	svc, err := NewFallServiceWithDeps(cfg, logger, deps)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	svc.closers = closers
	return svc, nil
}

// NewFallServiceWithDeps 使用给定依赖创建服务
func NewFallServiceWithDeps(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*FallService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// 1. 决策层
	machine := alert.NewMachine(logger)
	analyzer := pose.NewAnalyzer(cfg.Detection.Pose)
	engine := fusion.NewEngine(cfg.Detection.Fusion, analyzer, machine, logger)

	// 2. 帧处理
	slot := pipeline.NewLatestFrame()
	pl := pipeline.New(cfg.Detection.Pipeline, slot, deps.Detector, deps.Estimator, engine, logger)

	s := &FallService{
		config:   cfg,
		logger:   logger,
		deps:     deps,
		machine:  machine,
		engine:   engine,
		slot:     slot,
		pipeline: pl,
	}

	// 3. 发布层
	if deps.Redis != nil {
		s.redisPub = publisher.NewRedisPublisher(cfg.Redis, cfg.DeviceID, deps.Redis, cfg.Detection.PublishQueueSize, logger)
		machine.OnAlertChanged(s.redisPub.OnAlertChanged)
		machine.OnHelpRequested(s.redisPub.OnHelpRequested)
	}
	if deps.MQTT != nil {
		s.mqttPub = publisher.NewMQTTPublisher(cfg.MQTT, cfg.DeviceID, deps.MQTT, cfg.Detection.PublishQueueSize, logger)
		machine.OnAlertChanged(s.mqttPub.OnAlertChanged)
		machine.OnHelpRequested(s.mqttPub.OnHelpRequested)
	}

	// 4. 帧来源
	switch cfg.Source.Type {
	case config.SourceMQTT:
		if deps.MQTT == nil {
			return nil, fmt.Errorf("mqtt frame source requires an mqtt client")
		}
		topic := cfg.MQTT.Topic(cfg.MQTT.FrameTopic, cfg.DeviceID)
		s.mqttSource = source.NewMQTTSource(deps.MQTT, topic, cfg.MQTT.QoS, cfg.DeviceID, slot, logger)
	case config.SourceVideo:
		video, err := source.NewVideoSource(cfg.Source.VideoPath, cfg.Source.FPS, cfg.DeviceID, slot, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create video source: %w", err)
		}
		s.videoSource = video
	}

	return s, nil
}

// OnAlertChanged 注册报警状态变化回调（回调不能阻塞）
func (s *FallService) OnAlertChanged(fn alert.ChangeFunc) {
	s.machine.OnAlertChanged(fn)
}

// OnHelpRequested 注册求助回调（回调不能阻塞）
func (s *FallService) OnHelpRequested(fn alert.HelpFunc) {
	s.machine.OnHelpRequested(fn)
}

// SubmitFrame 写入一帧 JPEG（HTTP 推帧），返回帧 ID
func (s *FallService) SubmitFrame(data []byte) uint64 {
	return s.slot.Put(models.Frame{
		DeviceID:  s.config.DeviceID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Start 启动服务，阻塞到 ctx 取消或帧来源出错
func (s *FallService) Start(ctx context.Context) error {
	s.logger.Info("Starting fall detection service",
		zap.String("device_id", s.config.DeviceID),
		zap.String("source", s.config.Source.Type),
	)

	s.mu.Lock()
	s.runCtx = ctx
	pubCtx, pubCancel := context.WithCancel(context.Background())
	s.pubCancel = pubCancel
	s.mu.Unlock()

	// 1. 发布 worker
	if s.redisPub != nil {
		s.goBackground(func() { s.redisPub.Run(pubCtx) })
	}
	if s.mqttPub != nil {
		s.goBackground(func() { s.mqttPub.Run(pubCtx) })
	}

	// 2. 帧来源
	errCh := make(chan error, 1)
	if s.mqttSource != nil {
		if err := s.mqttSource.Start(); err != nil {
			return fmt.Errorf("failed to start mqtt source: %w", err)
		}
	}
	if s.videoSource != nil {
		s.goBackground(func() {
			if err := s.videoSource.Run(ctx); err != nil {
				errCh <- err
			}
		})
	}

	// 3. 检测（HTTP 可能已先行开启）
	if s.config.Detection.AutoStart {
		if err := s.pipeline.Start(ctx); err != nil && !errors.Is(err, pipeline.ErrAlreadyRunning) {
			return fmt.Errorf("failed to start detection: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("frame source stopped: %w", err)
	}
}

// Stop 停止服务
// 检测停止不会修改报警状态
func (s *FallService) Stop() error {
	s.logger.Info("Stopping fall detection service")

	s.pipeline.Stop()
	s.pipeline.Wait()

	if s.mqttSource != nil {
		if err := s.mqttSource.Stop(); err != nil {
			s.logger.Warn("Failed to stop mqtt source", zap.Error(err))
		}
	}

	s.mu.Lock()
	pubCancel := s.pubCancel
	s.mu.Unlock()
	if pubCancel != nil {
		pubCancel()
	}
	s.background.Wait()

	for _, c := range s.closers {
		c()
	}
	return nil
}

func (s *FallService) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

// AlertState 当前报警状态
func (s *FallService) AlertState() models.AlertState {
	return s.engine.AlertState()
}

// CancelAlert 用户取消报警
func (s *FallService) CancelAlert() models.AlertState {
	return s.engine.CancelAlert()
}

// RequestHelp 用户请求帮助；没有活跃报警时返回 alert.ErrNoActiveAlert
func (s *FallService) RequestHelp() (models.HelpRequest, error) {
	return s.engine.RequestHelp()
}

// PublishedAlert Redis 中缓存的报警状态
// 未启用 Redis 时返回 ErrPublisherDisabled，尚未写入时返回 redis.ErrCacheMiss
func (s *FallService) PublishedAlert(ctx context.Context) (models.AlertState, error) {
	if s.redisPub == nil {
		return models.AlertState{}, ErrPublisherDisabled
	}
	return s.redisPub.CachedState(ctx)
}

// ToggleDetection 开启/关闭检测，不修改报警状态
func (s *FallService) ToggleDetection(enabled bool) error {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.pipeline.Toggle(ctx, enabled); err != nil {
		return err
	}
	s.logger.Info("Fall detection toggled",
		zap.Bool("enabled", enabled),
		zap.String("session_id", s.pipeline.SessionID()),
	)
	return nil
}

// DetectionStatus 检测运行状态
func (s *FallService) DetectionStatus() DetectionStatus {
	status := DetectionStatus{
		DeviceID:   s.config.DeviceID,
		Running:    s.pipeline.Running(),
		SessionID:  s.pipeline.SessionID(),
		Engine:     s.engine.Status(),
		Pipeline:   s.pipeline.Stats(),
		Publishers: make(map[string]publisher.Stats),
	}
	if s.redisPub != nil {
		status.Publishers["redis"] = s.redisPub.Stats()
	}
	if s.mqttPub != nil {
		status.Publishers["mqtt"] = s.mqttPub.Stats()
	}
	return status
}

// Health 依赖健康状态
func (s *FallService) Health(ctx context.Context) map[string]string {
	services := make(map[string]string)

	if s.deps.Redis != nil {
		if err := redis.Ping(ctx, s.deps.Redis); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if c, ok := s.deps.MQTT.(interface{ IsConnected() bool }); ok {
		if c.IsConnected() {
			services["mqtt"] = "healthy"
		} else {
			services["mqtt"] = "unhealthy: disconnected"
		}
	} else if s.deps.MQTT != nil {
		services["mqtt"] = "healthy"
	} else {
		services["mqtt"] = "not configured"
	}

	return services
}
