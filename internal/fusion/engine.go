// Package fusion 融合分类器检测与姿态检测，驱动报警状态机
//
// 两条触发路径：
//   - 分类器路径：label == "fall" 且 confidence > 阈值，单帧立即触发
//   - 姿态路径：连续 N 帧判定为摔倒才触发，任一帧非摔倒立即清零
package fusion

import (
	"fmt"
	"math"
	"sync"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/pose"

	"go.uber.org/zap"
)

// Params 融合参数
type Params struct {
	FallLabel           string  // 分类器摔倒标签，默认 "fall"
	ClassifierThreshold float64 // 分类器置信度需严格大于该值，默认 0.7
	PoseFrameThreshold  uint32  // 姿态路径连续帧数，默认 5
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		FallLabel:           models.FallLabel,
		ClassifierThreshold: 0.7,
		PoseFrameThreshold:  5,
	}
}

// Validate 校验参数
func (p Params) Validate() error {
	if p.FallLabel == "" {
		return fmt.Errorf("fall label must not be empty")
	}
	if math.IsNaN(p.ClassifierThreshold) || p.ClassifierThreshold < 0 || p.ClassifierThreshold > 1 {
		return fmt.Errorf("classifier threshold out of range [0,1]: %v", p.ClassifierThreshold)
	}
	if p.PoseFrameThreshold == 0 {
		return fmt.Errorf("pose frame threshold must be at least 1")
	}
	return nil
}

// Decision 单次融合结果
type Decision struct {
	Triggered  bool                 `json:"triggered"`
	Source     models.TriggerSource `json:"source,omitempty"`
	Confidence float64              `json:"confidence"`
	Streak     uint32               `json:"streak"`
}

// Engine 融合引擎（姿态连续帧计数的唯一所有者）
type Engine struct {
	mu       sync.Mutex
	params   Params
	analyzer *pose.Analyzer
	machine  *alert.Machine
	logger   *zap.Logger

	// FallDecisionState
	consecutivePoseFallFrames uint32

	// 最近一帧结果（只读展示用）
	lastAssessment *pose.Assessment
	lastDetections []models.DetectedObject
}

// NewEngine 创建融合引擎
func NewEngine(params Params, analyzer *pose.Analyzer, machine *alert.Machine, logger *zap.Logger) *Engine {
	return &Engine{
		params:   params,
		analyzer: analyzer,
		machine:  machine,
		logger:   logger,
	}
}

// ProcessDetections 分类器路径：每个合格的 "fall" 检测立即触发报警
func (e *Engine) ProcessDetections(objects []models.DetectedObject) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastDetections = append(e.lastDetections[:0], objects...)

	decision := Decision{Streak: e.consecutivePoseFallFrames}
	for _, obj := range objects {
		if obj.Label != e.params.FallLabel || float64(obj.Confidence) <= e.params.ClassifierThreshold {
			continue
		}

		confidence := float64(obj.Confidence)
		e.machine.Trigger(models.TriggerSourceClassifier, confidence)

		decision.Triggered = true
		decision.Source = models.TriggerSourceClassifier
		decision.Confidence = confidence
	}

	if decision.Triggered {
		e.logger.Debug("Classifier fall detection",
			zap.Float64("confidence", decision.Confidence),
			zap.Int("object_count", len(objects)),
		)
	}
	return decision
}

// ProcessPose 姿态路径：连续 PoseFrameThreshold 帧摔倒才触发
// 触发置信度为当前帧的姿态置信度
func (e *Engine) ProcessPose(p models.Pose) Decision {
	assessment := e.analyzer.Assess(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastAssessment = &assessment

	if !assessment.IsFalling {
		e.consecutivePoseFallFrames = 0
		return Decision{Confidence: assessment.Confidence}
	}

	e.consecutivePoseFallFrames++
	decision := Decision{
		Confidence: assessment.Confidence,
		Streak:     e.consecutivePoseFallFrames,
	}

	if e.consecutivePoseFallFrames >= e.params.PoseFrameThreshold {
		e.machine.Trigger(models.TriggerSourcePose, assessment.Confidence)
		decision.Triggered = true
		decision.Source = models.TriggerSourcePose

		e.logger.Debug("Pose fall detection",
			zap.Float64("confidence", assessment.Confidence),
			zap.Uint32("streak", e.consecutivePoseFallFrames),
		)
	}
	return decision
}

// CancelAlert 取消报警并清零姿态连续帧计数
func (e *Engine) CancelAlert() models.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutivePoseFallFrames = 0
	e.machine.Cancel()
	return e.machine.Snapshot()
}

// RequestHelp 请求帮助（不改变报警状态）
func (e *Engine) RequestHelp() (models.HelpRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.machine.RequestHelp()
}

// AlertState 当前报警状态
func (e *Engine) AlertState() models.AlertState {
	return e.machine.Snapshot()
}

// AlertActive 是否处于报警状态
func (e *Engine) AlertActive() bool {
	return e.machine.Active()
}

// Streak 当前姿态连续摔倒帧数
func (e *Engine) Streak() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutivePoseFallFrames
}

// Status 引擎只读快照
type Status struct {
	Streak         uint32                  `json:"streak"`
	LastAssessment *pose.Assessment        `json:"last_assessment,omitempty"`
	LastDetections []models.DetectedObject `json:"last_detections"`
}

// Status 返回最近一帧的检测结果
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Streak:         e.consecutivePoseFallFrames,
		LastDetections: append([]models.DetectedObject{}, e.lastDetections...),
	}
	if e.lastAssessment != nil {
		a := *e.lastAssessment
		s.LastAssessment = &a
	}
	return s
}
