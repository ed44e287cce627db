// Package pose 人体姿态几何分析（躯干角度、腿部角度、摔倒置信度）
//
// 所有函数都是纯函数：输入缺失或置信度不足时返回 nil，不视为错误。
package pose

import (
	"math"

	"wisefido-fall/internal/models"
)

// Midpoint 计算两个关键点的中点
// 任一为空或无效时返回 nil；置信度取两者较小值
func Midpoint(a, b *models.Keypoint) *models.Keypoint {
	if a == nil || !a.Valid() || b == nil || !b.Valid() {
		return nil
	}

	return &models.Keypoint{
		X:          (a.X + b.X) / 2,
		Y:          (a.Y + b.Y) / 2,
		Confidence: min(a.Confidence, b.Confidence),
	}
}

// AngleAtVertex 计算以 vertex 为顶点、a 与 c 之间的夹角（度，0-180）
func AngleAtVertex(a, vertex, c *models.Keypoint) *float64 {
	if a == nil || !a.Valid() ||
		vertex == nil || !vertex.Valid() ||
		c == nil || !c.Valid() {
		return nil
	}

	v1x := a.X - vertex.X
	v1y := a.Y - vertex.Y
	v2x := c.X - vertex.X
	v2y := c.Y - vertex.Y

	dot := v1x*v2x + v1y*v2y
	cross := v1x*v2y - v1y*v2x
	angle := math.Abs(math.Atan2(cross, dot) * 180 / math.Pi)

	return &angle
}
