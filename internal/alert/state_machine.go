// Package alert 摔倒报警状态机
//
// 状态：Idle / Alerted
//   - Idle → Alerted：任一触发路径触发
//   - Alerted → Alerted：重复触发只刷新置信度；RequestHelp 发出求助信号
//   - Alerted → Idle：仅 Cancel（用户确认取消）
package alert

import (
	"errors"
	"sync"
	"time"

	"wisefido-fall/internal/models"

	"go.uber.org/zap"
)

// ErrNoActiveAlert 没有活跃报警时请求帮助
var ErrNoActiveAlert = errors.New("no active fall alert")

// ChangeFunc 报警状态变化回调
type ChangeFunc func(state models.AlertState)

// HelpFunc 求助信号回调
type HelpFunc func(req models.HelpRequest)

// Machine 报警状态机（AlertState 的唯一写入者）
//
// 回调在状态锁内按变化顺序同步调用，回调不能阻塞，也不能回调 Machine。
type Machine struct {
	mu       sync.Mutex
	state    models.AlertState
	onChange []ChangeFunc
	onHelp   []HelpFunc
	now      func() time.Time
	logger   *zap.Logger
}

// NewMachine 创建状态机（初始 Idle）
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{
		now:    time.Now,
		logger: logger,
	}
}

// OnAlertChanged 注册状态变化回调
func (m *Machine) OnAlertChanged(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnHelpRequested 注册求助回调
func (m *Machine) OnHelpRequested(fn HelpFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHelp = append(m.onHelp, fn)
}

// Snapshot 返回当前状态的一致快照
func (m *Machine) Snapshot() models.AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

// Active 是否处于报警状态
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Active
}

// Trigger 触发报警，返回是否发生了 Idle → Alerted 转换
// 已在报警状态时只刷新置信度（后写者生效）
func (m *Machine) Trigger(source models.TriggerSource, confidence float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Active {
		if m.state.Confidence == confidence && m.state.Source == source {
			return false
		}
		m.state.Confidence = confidence
		m.state.Source = source
		m.state.Version++
		m.notifyChange()
		return false
	}

	now := m.now()
	m.state = models.AlertState{
		Active:      true,
		Confidence:  confidence,
		Source:      source,
		TriggeredAt: &now,
		Version:     m.state.Version + 1,
	}

	m.logger.Info("Fall alert raised",
		zap.String("source", string(source)),
		zap.Float64("confidence", confidence),
	)
	m.notifyChange()
	return true
}

// Cancel 用户取消报警，返回是否发生了 Alerted → Idle 转换
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active {
		return false
	}

	m.state = models.AlertState{Version: m.state.Version + 1}

	m.logger.Info("Fall alert cancelled")
	m.notifyChange()
	return true
}

// RequestHelp 发出求助信号，不改变 active/confidence
func (m *Machine) RequestHelp() (models.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active {
		return models.HelpRequest{}, ErrNoActiveAlert
	}

	now := m.now()
	m.state.HelpRequestedAt = &now
	m.state.Version++

	req := models.HelpRequest{
		Confidence:  m.state.Confidence,
		Source:      m.state.Source,
		RequestedAt: now,
	}

	m.logger.Info("Help requested for fall alert",
		zap.Float64("confidence", req.Confidence),
		zap.String("source", string(req.Source)),
	)
	m.notifyChange()
	for _, fn := range m.onHelp {
		fn(req)
	}
	return req, nil
}

// notifyChange 调用方需持有锁
func (m *Machine) notifyChange() {
	for _, fn := range m.onChange {
		fn(copyState(m.state))
	}
}

func copyState(s models.AlertState) models.AlertState {
	out := s
	if s.TriggeredAt != nil {
		t := *s.TriggeredAt
		out.TriggeredAt = &t
	}
	if s.HelpRequestedAt != nil {
		t := *s.HelpRequestedAt
		out.HelpRequestedAt = &t
	}
	return out
}
