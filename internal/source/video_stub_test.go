//go:build !gocv

package source

import (
	"testing"

	"wisefido-fall/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewVideoSource_RequiresGocvTag(t *testing.T) {
	src, err := NewVideoSource("fall.mp4", 30, "cam-1", pipeline.NewLatestFrame(), zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, src)
}
