package fusion

import (
	"math"
	"testing"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/pose"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine() (*Engine, *alert.Machine) {
	logger := zap.NewNop()
	machine := alert.NewMachine(logger)
	engine := NewEngine(DefaultParams(), pose.NewAnalyzer(pose.DefaultParams()), machine, logger)
	return engine, machine
}

// lyingPose 躯干水平、腿部角度为 legDeg 的姿态
func lyingPose(legDeg float64) models.Pose {
	r := legDeg * math.Pi / 180
	hip := models.Keypoint{X: 0.7, Y: 0.5, Confidence: 0.9}
	knee := models.Keypoint{X: 0.7, Y: 0.7, Confidence: 0.9}
	ankle := models.Keypoint{X: knee.X + 0.2*math.Sin(r), Y: knee.Y - 0.2*math.Cos(r), Confidence: 0.9}

	return models.NewPose(map[models.Joint]models.Keypoint{
		models.JointNeck:       {X: 0.3, Y: 0.5, Confidence: 0.9},
		models.JointLeftHip:    hip,
		models.JointRightHip:   hip,
		models.JointLeftKnee:   knee,
		models.JointRightKnee:  knee,
		models.JointLeftAnkle:  ankle,
		models.JointRightAnkle: ankle,
	})
}

func standingPose() models.Pose {
	return models.NewPose(map[models.Joint]models.Keypoint{
		models.JointNeck:       {X: 0.5, Y: 0.2, Confidence: 0.9},
		models.JointLeftHip:    {X: 0.5, Y: 0.5, Confidence: 0.9},
		models.JointRightHip:   {X: 0.5, Y: 0.5, Confidence: 0.9},
		models.JointLeftKnee:   {X: 0.5, Y: 0.7, Confidence: 0.9},
		models.JointLeftAnkle:  {X: 0.5, Y: 0.9, Confidence: 0.9},
		models.JointRightKnee:  {X: 0.55, Y: 0.7, Confidence: 0.9},
		models.JointRightAnkle: {X: 0.55, Y: 0.9, Confidence: 0.9},
	})
}

func TestEngine_ClassifierSingleFrameTrigger(t *testing.T) {
	engine, machine := newTestEngine()

	decision := engine.ProcessDetections([]models.DetectedObject{
		{Label: "person", Confidence: 0.99},
		{Label: "fall", Confidence: 0.71},
	})

	assert.True(t, decision.Triggered)
	assert.Equal(t, models.TriggerSourceClassifier, decision.Source)
	s := machine.Snapshot()
	assert.True(t, s.Active)
	assert.InDelta(t, 0.71, s.Confidence, 1e-6)
}

func TestEngine_ClassifierBelowThreshold(t *testing.T) {
	engine, machine := newTestEngine()

	decision := engine.ProcessDetections([]models.DetectedObject{
		{Label: "fall", Confidence: 0.7},
		{Label: "Fall", Confidence: 0.95},
		{Label: "person", Confidence: 0.95},
	})

	assert.False(t, decision.Triggered)
	assert.False(t, machine.Snapshot().Active)
}

func TestEngine_ClassifierLastWriterWins(t *testing.T) {
	engine, machine := newTestEngine()

	engine.ProcessDetections([]models.DetectedObject{
		{Label: "fall", Confidence: 0.9},
		{Label: "fall", Confidence: 0.8},
	})

	assert.InDelta(t, 0.8, machine.Snapshot().Confidence, 1e-6)
}

func TestEngine_EmptyDetections(t *testing.T) {
	engine, machine := newTestEngine()

	decision := engine.ProcessDetections(nil)

	assert.False(t, decision.Triggered)
	assert.False(t, machine.Snapshot().Active)
	assert.Empty(t, engine.Status().LastDetections)
}

func TestEngine_PoseDebounce(t *testing.T) {
	engine, machine := newTestEngine()

	for i := 0; i < 4; i++ {
		d := engine.ProcessPose(lyingPose(90))
		assert.False(t, d.Triggered)
		assert.Equal(t, uint32(i+1), d.Streak)
	}
	assert.False(t, machine.Snapshot().Active)

	fifth := engine.ProcessPose(lyingPose(100))

	assert.True(t, fifth.Triggered)
	assert.Equal(t, models.TriggerSourcePose, fifth.Source)
	s := machine.Snapshot()
	assert.True(t, s.Active)
	assert.Equal(t, fifth.Confidence, s.Confidence)
	assert.InDelta(t, 0.6+0.4*50.0/70.0, s.Confidence, 1e-9)
}

func TestEngine_PoseStreakResets(t *testing.T) {
	engine, machine := newTestEngine()

	for i := 0; i < 4; i++ {
		engine.ProcessPose(lyingPose(90))
	}
	d := engine.ProcessPose(standingPose())
	assert.Equal(t, uint32(0), d.Streak)
	for i := 0; i < 4; i++ {
		engine.ProcessPose(lyingPose(90))
	}

	assert.False(t, machine.Snapshot().Active)
	assert.Equal(t, uint32(4), engine.Streak())
}

func TestEngine_EmptyPoseResetsStreak(t *testing.T) {
	engine, _ := newTestEngine()
	engine.ProcessPose(lyingPose(90))
	engine.ProcessPose(lyingPose(90))

	engine.ProcessPose(models.NewPose(nil))

	assert.Equal(t, uint32(0), engine.Streak())
}

func TestEngine_PoseKeepsRefreshingWhileAlerted(t *testing.T) {
	engine, machine := newTestEngine()
	for i := 0; i < 5; i++ {
		engine.ProcessPose(lyingPose(90))
	}
	require.True(t, machine.Snapshot().Active)

	d := engine.ProcessPose(lyingPose(80))

	assert.True(t, d.Triggered)
	assert.Equal(t, d.Confidence, machine.Snapshot().Confidence)
}

func TestEngine_CancelResetsStreak(t *testing.T) {
	engine, machine := newTestEngine()
	for i := 0; i < 5; i++ {
		engine.ProcessPose(lyingPose(90))
	}
	require.True(t, machine.Snapshot().Active)

	s := engine.CancelAlert()

	assert.False(t, s.Active)
	assert.Equal(t, 0.0, s.Confidence)
	assert.Equal(t, uint32(0), engine.Streak())

	// 需要新的连续 5 帧才会再次报警
	for i := 0; i < 4; i++ {
		engine.ProcessPose(lyingPose(90))
	}
	assert.False(t, machine.Snapshot().Active)
	engine.ProcessPose(lyingPose(90))
	assert.True(t, machine.Snapshot().Active)
}

func TestEngine_RequestHelp(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.RequestHelp()
	assert.ErrorIs(t, err, alert.ErrNoActiveAlert)

	engine.ProcessDetections([]models.DetectedObject{{Label: "fall", Confidence: 0.9}})
	req, err := engine.RequestHelp()

	require.NoError(t, err)
	assert.InDelta(t, 0.9, req.Confidence, 1e-6)
	assert.True(t, engine.AlertActive())
}

func TestEngine_Status(t *testing.T) {
	engine, _ := newTestEngine()
	engine.ProcessDetections([]models.DetectedObject{{Label: "person", Confidence: 0.9}})
	engine.ProcessPose(lyingPose(90))

	s := engine.Status()

	assert.Equal(t, uint32(1), s.Streak)
	require.NotNil(t, s.LastAssessment)
	assert.True(t, s.LastAssessment.IsFalling)
	require.Len(t, s.LastDetections, 1)
	assert.Equal(t, "person", s.LastDetections[0].Label)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.FallLabel = ""
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.ClassifierThreshold = 1.5
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.PoseFrameThreshold = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.ClassifierThreshold = math.NaN()
	assert.Error(t, p.Validate())
}
