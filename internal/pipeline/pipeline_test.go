package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/fusion"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/pose"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDetector struct {
	mu      sync.Mutex
	objects []models.DetectedObject
	err     error
	calls   atomic.Int32
	block   chan struct{}
	// ignoreCtx 为 true 时只等待 block，模拟不响应取消的推理
	ignoreCtx bool
}

func (d *fakeDetector) Detect(ctx context.Context, frame models.Frame) ([]models.DetectedObject, error) {
	d.calls.Add(1)
	if d.block != nil && d.ignoreCtx {
		<-d.block
	} else if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects, d.err
}

type fakeEstimator struct {
	pose  *models.Pose
	calls atomic.Int32
}

func (e *fakeEstimator) Estimate(ctx context.Context, frame models.Frame) (*models.Pose, error) {
	e.calls.Add(1)
	return e.pose, nil
}

// countingSource 每次读取都产生新帧
type countingSource struct {
	id atomic.Uint64
}

func (s *countingSource) Latest() (models.Frame, bool) {
	return models.Frame{ID: s.id.Add(1), DeviceID: "cam-1", Timestamp: time.Now()}, true
}

func newTestPipeline(cfg Config, src FrameSource, det ObjectDetector, est PoseEstimator) (*Pipeline, *fusion.Engine) {
	logger := zap.NewNop()
	machine := alert.NewMachine(logger)
	engine := fusion.NewEngine(fusion.DefaultParams(), pose.NewAnalyzer(pose.DefaultParams()), machine, logger)
	return New(cfg, src, det, est, engine, logger), engine
}

func fastConfig() Config {
	return Config{TickInterval: 2 * time.Millisecond}
}

// lyingPose 躯干水平、双腿伸直
func lyingPose() *models.Pose {
	p := models.NewPose(map[models.Joint]models.Keypoint{
		models.JointNeck:       {X: 0.2, Y: 0.5, Confidence: 0.9},
		models.JointLeftHip:    {X: 0.5, Y: 0.5, Confidence: 0.9},
		models.JointRightHip:   {X: 0.5, Y: 0.5, Confidence: 0.9},
		models.JointLeftKnee:   {X: 0.7, Y: 0.5, Confidence: 0.9},
		models.JointRightKnee:  {X: 0.7, Y: 0.5, Confidence: 0.9},
		models.JointLeftAnkle:  {X: 0.9, Y: 0.5, Confidence: 0.9},
		models.JointRightAnkle: {X: 0.9, Y: 0.5, Confidence: 0.9},
	})
	return &p
}

func TestLatestFrame(t *testing.T) {
	slot := NewLatestFrame()

	_, ok := slot.Latest()
	assert.False(t, ok)

	id1 := slot.Put(models.Frame{DeviceID: "cam-1"})
	id2 := slot.Put(models.Frame{DeviceID: "cam-1"})
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	frame, ok := slot.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), frame.ID, "newer frame overwrites older one")

	assert.Equal(t, uint64(10), slot.Put(models.Frame{ID: 10}))
	assert.Equal(t, uint64(11), slot.Put(models.Frame{}))
}

func TestPipeline_ClassifierTriggersAlert(t *testing.T) {
	det := &fakeDetector{objects: []models.DetectedObject{{Label: models.FallLabel, Confidence: 0.9}}}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, engine.AlertActive, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.TriggerSourceClassifier, engine.AlertState().Source)
}

func TestPipeline_PoseTriggersAfterDebounce(t *testing.T) {
	est := &fakeEstimator{pose: lyingPose()}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, nil, est)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, engine.AlertActive, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, est.calls.Load(), int32(5))
	assert.Equal(t, models.TriggerSourcePose, engine.AlertState().Source)
}

func TestPipeline_NoPersonLeavesStreak(t *testing.T) {
	est := &fakeEstimator{}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, nil, est)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return est.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()

	assert.Equal(t, uint32(0), engine.Streak())
	assert.False(t, engine.AlertActive())
}

func TestPipeline_SameFrameProcessedOnce(t *testing.T) {
	slot := NewLatestFrame()
	slot.Put(models.Frame{DeviceID: "cam-1"})

	det := &fakeDetector{}
	p, _ := newTestPipeline(fastConfig(), slot, det, nil)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(1), det.calls.Load())
	assert.Equal(t, uint64(1), p.Stats().FramesProcessed)
}

func TestPipeline_SlowDetectorSkipsFrames(t *testing.T) {
	det := &fakeDetector{block: make(chan struct{})}
	p, _ := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Stats().DetectorDropped >= 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), det.calls.Load(), "only one detection in flight")

	close(det.block)
	p.Stop()
	p.Wait()
}

func TestPipeline_StopDiscardsInflightResults(t *testing.T) {
	det := &fakeDetector{
		objects: []models.DetectedObject{{Label: models.FallLabel, Confidence: 0.95}},
		block:   make(chan struct{}),
	}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, 2*time.Millisecond)

	p.Stop()
	close(det.block)
	p.Wait()

	assert.False(t, engine.AlertActive())
}

func TestPipeline_StopWaitsForInflightInference(t *testing.T) {
	det := &fakeDetector{
		objects:   []models.DetectedObject{{Label: models.FallLabel, Confidence: 0.95}},
		block:     make(chan struct{}),
		ignoreCtx: true,
	}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, 2*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	// 会话已经结束，但推理仍在进行
	require.Eventually(t, func() bool { return !p.Running() }, time.Second, 2*time.Millisecond)
	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond, "Stop returned before inference finished")

	// 推理在 Stop 之后返回摔倒结果
	close(det.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after inference finished")
	}

	assert.False(t, engine.AlertActive(), "result from a stopped session must not reach the engine")
	assert.Equal(t, int32(1), det.calls.Load())
}

func TestPipeline_RestartAfterStop(t *testing.T) {
	det := &fakeDetector{objects: []models.DetectedObject{{Label: "person", Confidence: 0.9}}}
	p, _ := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	first := p.SessionID()
	require.Eventually(t, func() bool { return det.calls.Load() >= 1 }, time.Second, 2*time.Millisecond)
	p.Stop()

	calls := det.calls.Load()
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.NotEqual(t, first, p.SessionID())
	require.Eventually(t, func() bool { return det.calls.Load() > calls }, time.Second, 2*time.Millisecond)
}

func TestPipeline_StopKeepsAlertState(t *testing.T) {
	det := &fakeDetector{objects: []models.DetectedObject{{Label: models.FallLabel, Confidence: 0.9}}}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, engine.AlertActive, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Wait()
	assert.False(t, p.Running())
	assert.True(t, engine.AlertActive())
}

func TestPipeline_DetectorErrorsAreCounted(t *testing.T) {
	det := &fakeDetector{err: errors.New("model unavailable")}
	p, engine := newTestPipeline(fastConfig(), &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Stats().DetectorErrors >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()

	assert.False(t, engine.AlertActive())
}

func TestPipeline_SkipWhileAlerted(t *testing.T) {
	det := &fakeDetector{objects: []models.DetectedObject{{Label: models.FallLabel, Confidence: 0.9}}}
	cfg := fastConfig()
	cfg.SkipWhileAlerted = true
	p, engine := newTestPipeline(cfg, &countingSource{}, det, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, engine.AlertActive, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // 等待在途推理结束
	calls := det.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, det.calls.Load(), "no frames submitted while alerted")
}

func TestPipeline_Toggle(t *testing.T) {
	p, _ := newTestPipeline(fastConfig(), NewLatestFrame(), &fakeDetector{}, nil)
	ctx := context.Background()

	require.NoError(t, p.Toggle(ctx, true))
	assert.True(t, p.Running())
	first := p.SessionID()
	assert.NotEmpty(t, first)

	require.NoError(t, p.Toggle(ctx, true), "enabling twice is a no-op")
	assert.Equal(t, first, p.SessionID())

	require.NoError(t, p.Toggle(ctx, false))
	assert.False(t, p.Running())
	require.NoError(t, p.Toggle(ctx, false))

	require.NoError(t, p.Toggle(ctx, true))
	assert.NotEqual(t, first, p.SessionID())
	p.Stop()

	assert.ErrorIs(t, func() error {
		require.NoError(t, p.Start(ctx))
		defer p.Stop()
		return p.Start(ctx)
	}(), ErrAlreadyRunning)
}
