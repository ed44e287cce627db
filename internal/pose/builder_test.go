package pose

import (
	"testing"

	"wisefido-fall/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_DerivesNeckFromShoulders(t *testing.T) {
	p := Build(map[string]models.Keypoint{
		"left_shoulder":  kp(0.4, 0.2, 0.9),
		"right_shoulder": kp(0.6, 0.4, 0.7),
	}, OriginTopLeft)

	neck := p.Joint(models.JointNeck)
	require.NotNil(t, neck)
	assert.InDelta(t, 0.5, neck.X, 1e-9)
	assert.InDelta(t, 0.3, neck.Y, 1e-9)
	assert.Equal(t, float32(0.7), neck.Confidence)
}

func TestBuild_NoNeckWhenShoulderInvalid(t *testing.T) {
	p := Build(map[string]models.Keypoint{
		"left_shoulder":  kp(0.4, 0.2, 0.9),
		"right_shoulder": kp(0.6, 0.4, 0.2),
	}, OriginTopLeft)

	assert.Nil(t, p.Joint(models.JointNeck))
}

func TestBuild_KeepsReportedNeck(t *testing.T) {
	p := Build(map[string]models.Keypoint{
		"neck":           kp(0.1, 0.1, 0.8),
		"left_shoulder":  kp(0.4, 0.2, 0.9),
		"right_shoulder": kp(0.6, 0.4, 0.9),
	}, OriginTopLeft)

	neck := p.Joint(models.JointNeck)
	require.NotNil(t, neck)
	assert.Equal(t, 0.1, neck.X)
}

func TestBuild_FlipsBottomLeftOrigin(t *testing.T) {
	p := Build(map[string]models.Keypoint{
		"nose":    kp(0.5, 0.9, 0.9),
		"unknown": kp(0.5, 0.5, 0.9),
	}, OriginBottomLeft)

	nose := p.Joint(models.JointNose)
	require.NotNil(t, nose)
	assert.InDelta(t, 0.1, nose.Y, 1e-9)
	assert.Len(t, p.Keypoints(), 1)
}

func TestBuild_Empty(t *testing.T) {
	p := Build(nil, OriginTopLeft)

	assert.True(t, p.Empty())
}
