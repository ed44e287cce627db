// Package pipeline 帧处理循环
//
// 每个 tick 取最新一帧，分别异步提交给目标检测器和姿态估计器，
// 结果通过融合引擎串行应用。某条路径上一次推理仍未完成时跳过该帧，
// 慢推理不会阻塞后续帧。
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-fall/internal/fusion"
	"wisefido-fall/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyRunning 检测已在运行
var ErrAlreadyRunning = errors.New("detection already running")

// Config 帧处理配置
type Config struct {
	TickInterval     time.Duration // 取帧间隔，默认 33ms
	SkipWhileAlerted bool          // 报警期间不再提交推理
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TickInterval: 33 * time.Millisecond,
	}
}

// Stats 运行统计
type Stats struct {
	FramesProcessed  uint64 `json:"frames_processed"`
	DetectorDropped  uint64 `json:"detector_dropped"`
	EstimatorDropped uint64 `json:"estimator_dropped"`
	DetectorErrors   uint64 `json:"detector_errors"`
	EstimatorErrors  uint64 `json:"estimator_errors"`
}

// Pipeline 帧处理循环
type Pipeline struct {
	config    Config
	source    FrameSource
	detector  ObjectDetector
	estimator PoseEstimator
	engine    *fusion.Engine
	logger    *zap.Logger

	// applyMu 写锁用于会话切换，读锁覆盖“校验会话 + 写入引擎”
	applyMu sync.RWMutex

	mu         sync.Mutex
	running    bool
	sessionID  string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	inflight   *sync.WaitGroup // 每个会话独立计数

	detectBusy atomic.Bool
	poseBusy   atomic.Bool

	framesProcessed  atomic.Uint64
	detectorDropped  atomic.Uint64
	estimatorDropped atomic.Uint64
	detectorErrors   atomic.Uint64
	estimatorErrors  atomic.Uint64
}

// New 创建帧处理循环
// detector / estimator 可以为 nil（对应路径不参与）
func New(
	cfg Config,
	source FrameSource,
	detector ObjectDetector,
	estimator PoseEstimator,
	engine *fusion.Engine,
	logger *zap.Logger,
) *Pipeline {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Pipeline{
		config:    cfg,
		source:    source,
		detector:  detector,
		estimator: estimator,
		engine:    engine,
		logger:    logger,
		inflight:  &sync.WaitGroup{},
	}
}

// Start 开始检测
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.sessionID = uuid.New().String()
	p.generation++
	p.cancel = cancel
	p.done = make(chan struct{})
	p.inflight = &sync.WaitGroup{}

	p.logger.Info("Fall detection started",
		zap.String("session_id", p.sessionID),
		zap.Duration("tick_interval", p.config.TickInterval),
	)

	go p.run(runCtx, p.generation, p.done, p.inflight)
	return nil
}

// Stop 停止检测，不修改报警状态
// 等待在途推理退出，其结果会被丢弃
func (p *Pipeline) Stop() {
	p.applyMu.Lock()
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.applyMu.Unlock()
		return
	}
	p.running = false
	p.generation++
	cancel, done, inflight, sessionID := p.cancel, p.done, p.inflight, p.sessionID
	p.mu.Unlock()
	p.applyMu.Unlock()

	cancel()
	<-done
	inflight.Wait()

	p.logger.Info("Fall detection stopped",
		zap.String("session_id", sessionID),
	)
}

// Toggle 开启或关闭检测
func (p *Pipeline) Toggle(ctx context.Context, enabled bool) error {
	if !enabled {
		p.Stop()
		return nil
	}
	if err := p.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return err
	}
	return nil
}

// Running 是否正在检测
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SessionID 当前（或最近一次）检测会话 ID
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Stats 运行统计
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesProcessed:  p.framesProcessed.Load(),
		DetectorDropped:  p.detectorDropped.Load(),
		EstimatorDropped: p.estimatorDropped.Load(),
		DetectorErrors:   p.detectorErrors.Load(),
		EstimatorErrors:  p.estimatorErrors.Load(),
	}
}

// Wait 等待当前会话的在途推理结束
func (p *Pipeline) Wait() {
	p.mu.Lock()
	inflight := p.inflight
	p.mu.Unlock()
	inflight.Wait()
}

func (p *Pipeline) run(ctx context.Context, gen uint64, done chan struct{}, inflight *sync.WaitGroup) {
	defer close(done)

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	var lastFrameID uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := p.source.Latest()
			if !ok || frame.ID == lastFrameID {
				continue
			}
			lastFrameID = frame.ID

			if p.config.SkipWhileAlerted && p.engine.AlertActive() {
				continue
			}
			p.submit(ctx, gen, frame, inflight)
		}
	}
}

// submit 把一帧分别提交给两条推理路径
func (p *Pipeline) submit(ctx context.Context, gen uint64, frame models.Frame, inflight *sync.WaitGroup) {
	p.framesProcessed.Add(1)

	if p.detector != nil {
		if p.detectBusy.CompareAndSwap(false, true) {
			inflight.Add(1)
			go p.runDetector(ctx, gen, frame, inflight)
		} else {
			p.detectorDropped.Add(1)
		}
	}

	if p.estimator != nil {
		if p.poseBusy.CompareAndSwap(false, true) {
			inflight.Add(1)
			go p.runEstimator(ctx, gen, frame, inflight)
		} else {
			p.estimatorDropped.Add(1)
		}
	}
}

func (p *Pipeline) runDetector(ctx context.Context, gen uint64, frame models.Frame, inflight *sync.WaitGroup) {
	defer inflight.Done()
	defer p.detectBusy.Store(false)

	objects, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.detectorErrors.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("Object detection failed",
				zap.Uint64("frame_id", frame.ID),
				zap.Error(err),
			)
		}
		return
	}

	p.apply(gen, func() { p.engine.ProcessDetections(objects) })
}

func (p *Pipeline) runEstimator(ctx context.Context, gen uint64, frame models.Frame, inflight *sync.WaitGroup) {
	defer inflight.Done()
	defer p.poseBusy.Store(false)

	pose, err := p.estimator.Estimate(ctx, frame)
	if err != nil {
		p.estimatorErrors.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("Pose estimation failed",
				zap.Uint64("frame_id", frame.ID),
				zap.Error(err),
			)
		}
		return
	}
	// 画面中没有人：本帧不参与
	if pose == nil {
		return
	}

	p.apply(gen, func() { p.engine.ProcessPose(*pose) })
}

// apply 结果仍属于当前检测会话时写入引擎
// Stop 返回后旧会话的结果不会再到达引擎
func (p *Pipeline) apply(gen uint64, fn func()) {
	p.applyMu.RLock()
	defer p.applyMu.RUnlock()

	p.mu.Lock()
	current := p.running && p.generation == gen
	p.mu.Unlock()

	if current {
		fn()
	}
}
