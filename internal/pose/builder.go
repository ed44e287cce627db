package pose

import "wisefido-fall/internal/models"

// Origin 关键点坐标原点
type Origin string

const (
	OriginTopLeft    Origin = "top_left"
	OriginBottomLeft Origin = "bottom_left" // Vision 框架约定，需要翻转 y
)

// Build 从估计器原始关键点构建 Pose
//
// 1. 按名称解析关键点，未知名称忽略
// 2. bottom_left 原点时翻转 y
// 3. 未上报 neck 时用左右肩中点补齐
func Build(raw map[string]models.Keypoint, origin Origin) models.Pose {
	points := make(map[models.Joint]models.Keypoint, len(raw))
	for name, kp := range raw {
		joint, ok := models.ParseJoint(name)
		if !ok {
			continue
		}
		if origin == OriginBottomLeft {
			kp.Y = 1 - kp.Y
		}
		points[joint] = kp
	}

	if _, ok := points[models.JointNeck]; !ok {
		left, lok := points[models.JointLeftShoulder]
		right, rok := points[models.JointRightShoulder]
		if lok && rok {
			if neck := Midpoint(&left, &right); neck != nil {
				points[models.JointNeck] = *neck
			}
		}
	}

	return models.NewPose(points)
}
