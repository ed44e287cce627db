package pose

import (
	"fmt"
	"math"

	"wisefido-fall/internal/models"
)

// Params 摔倒置信度计算参数
//
//	confidence = TrunkWeight * min(1, trunk/TrunkNormDeg)
//	           + LegWeight * min(1, |leg-LegNormAngleDeg|/LegNormRangeDeg)
type Params struct {
	TrunkWeight     float64 // 躯干权重
	TrunkNormDeg    float64 // 躯干角度达到该值时 trunkFactor = 1
	LegWeight       float64 // 腿部权重
	LegNormAngleDeg float64 // 正常站立时的腿部角度
	LegNormRangeDeg float64 // 偏离该范围时 legFactor 降为 0
	FallThreshold   float64 // confidence 严格大于该值视为摔倒
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		TrunkWeight:     0.6,
		TrunkNormDeg:    75,
		LegWeight:       0.4,
		LegNormAngleDeg: 150,
		LegNormRangeDeg: 70,
		FallThreshold:   0.7,
	}
}

// Validate 校验参数
func (p Params) Validate() error {
	for _, v := range []float64{p.TrunkWeight, p.TrunkNormDeg, p.LegWeight, p.LegNormAngleDeg, p.LegNormRangeDeg, p.FallThreshold} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("params must be finite: %+v", p)
		}
	}
	if p.TrunkWeight < 0 || p.LegWeight < 0 {
		return fmt.Errorf("weights must not be negative (trunk=%v, leg=%v)", p.TrunkWeight, p.LegWeight)
	}
	if p.TrunkNormDeg <= 0 {
		return fmt.Errorf("trunk norm must be positive: %v", p.TrunkNormDeg)
	}
	if p.LegNormRangeDeg <= 0 {
		return fmt.Errorf("leg norm range must be positive: %v", p.LegNormRangeDeg)
	}
	return nil
}

// Assessment 单帧姿态评估结果
type Assessment struct {
	TrunkAngle *float64 `json:"trunk_angle,omitempty"`
	LegAngle   *float64 `json:"leg_angle,omitempty"`
	Confidence float64  `json:"confidence"`
	IsFalling  bool     `json:"is_falling"`
}

// Analyzer 姿态分析器（无状态）
type Analyzer struct {
	params Params
}

// NewAnalyzer 创建姿态分析器
func NewAnalyzer(params Params) *Analyzer {
	return &Analyzer{params: params}
}

// Params 返回分析器参数
func (a *Analyzer) Params() Params {
	return a.params
}

// TrunkAngle 躯干与竖直方向的夹角（度）
// 接近 0 表示直立，接近 90 表示躺倒
func TrunkAngle(p models.Pose) *float64 {
	neck := p.Joint(models.JointNeck)
	if neck == nil || !neck.Valid() {
		return nil
	}
	midHip := Midpoint(p.Joint(models.JointLeftHip), p.Joint(models.JointRightHip))
	if midHip == nil || !midHip.Valid() {
		return nil
	}

	dx := midHip.X - neck.X
	dy := midHip.Y - neck.Y
	angle := math.Abs(math.Atan2(dx, dy) * 180 / math.Pi)

	return &angle
}

// LegAngle 腿部角度（髋-膝-踝），两腿都可用时取平均
func LegAngle(p models.Pose) *float64 {
	left := AngleAtVertex(
		p.Joint(models.JointLeftHip),
		p.Joint(models.JointLeftKnee),
		p.Joint(models.JointLeftAnkle),
	)
	right := AngleAtVertex(
		p.Joint(models.JointRightHip),
		p.Joint(models.JointRightKnee),
		p.Joint(models.JointRightAnkle),
	)

	switch {
	case left != nil && right != nil:
		avg := (*left + *right) / 2
		return &avg
	case left != nil:
		return left
	default:
		return right
	}
}

// Assess 评估姿态
func (a *Analyzer) Assess(p models.Pose) Assessment {
	result := Assessment{
		TrunkAngle: TrunkAngle(p),
		LegAngle:   LegAngle(p),
	}

	// 躯干倾斜
	if result.TrunkAngle != nil {
		trunkFactor := math.Min(1, *result.TrunkAngle/a.params.TrunkNormDeg)
		result.Confidence += a.params.TrunkWeight * trunkFactor
	}

	// 腿部偏离正常站立角度
	if result.LegAngle != nil {
		legFactor := 1 - math.Min(1, math.Abs(*result.LegAngle-a.params.LegNormAngleDeg)/a.params.LegNormRangeDeg)
		result.Confidence += a.params.LegWeight * (1 - legFactor)
	}

	result.IsFalling = result.Confidence > a.params.FallThreshold
	return result
}

// FallConfidence 返回 (是否摔倒, 置信度)
func (a *Analyzer) FallConfidence(p models.Pose) (bool, float64) {
	r := a.Assess(p)
	return r.IsFalling, r.Confidence
}
