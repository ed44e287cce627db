package models

// Joint 人体关键点名称
type Joint int

const (
	JointNose Joint = iota
	JointNeck
	JointLeftShoulder
	JointRightShoulder
	JointLeftElbow
	JointRightElbow
	JointLeftWrist
	JointRightWrist
	JointLeftHip
	JointRightHip
	JointLeftKnee
	JointRightKnee
	JointLeftAnkle
	JointRightAnkle
	JointLeftEye
	JointRightEye
	JointLeftEar
	JointRightEar

	// NumJoints 关键点总数（Pose 固定大小）
	NumJoints
)

var jointNames = [NumJoints]string{
	JointNose:          "nose",
	JointNeck:          "neck",
	JointLeftShoulder:  "left_shoulder",
	JointRightShoulder: "right_shoulder",
	JointLeftElbow:     "left_elbow",
	JointRightElbow:    "right_elbow",
	JointLeftWrist:     "left_wrist",
	JointRightWrist:    "right_wrist",
	JointLeftHip:       "left_hip",
	JointRightHip:      "right_hip",
	JointLeftKnee:      "left_knee",
	JointRightKnee:     "right_knee",
	JointLeftAnkle:     "left_ankle",
	JointRightAnkle:    "right_ankle",
	JointLeftEye:       "left_eye",
	JointRightEye:      "right_eye",
	JointLeftEar:       "left_ear",
	JointRightEar:      "right_ear",
}

// String 返回关键点的线上名称，如 "left_shoulder"
func (j Joint) String() string {
	if j < 0 || j >= NumJoints {
		return "unknown"
	}
	return jointNames[j]
}

// ParseJoint 根据名称解析关键点
func ParseJoint(name string) (Joint, bool) {
	for j, n := range jointNames {
		if n == name {
			return Joint(j), true
		}
	}
	return 0, false
}

// KeypointValidConfidence 关键点有效的最低置信度（需严格大于）
const KeypointValidConfidence = 0.5

// Keypoint 单个关键点（归一化坐标，原点左上角）
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float32 `json:"confidence"`
}

// Valid 置信度 > 0.5 视为有效
func (k Keypoint) Valid() bool {
	return k.Confidence > KeypointValidConfidence
}

// Pose 单帧人体姿态，创建后不可修改
type Pose struct {
	points  [NumJoints]Keypoint
	present [NumJoints]bool
}

// NewPose 根据上报的关键点创建 Pose（未知关键点忽略）
func NewPose(points map[Joint]Keypoint) Pose {
	var p Pose
	for j, kp := range points {
		if j < 0 || j >= NumJoints {
			continue
		}
		p.points[j] = kp
		p.present[j] = true
	}
	return p
}

// Joint 返回关键点副本，未上报时返回 nil
func (p Pose) Joint(j Joint) *Keypoint {
	if j < 0 || j >= NumJoints || !p.present[j] {
		return nil
	}
	kp := p.points[j]
	return &kp
}

// Keypoints 按名称返回已上报的关键点
func (p Pose) Keypoints() map[string]Keypoint {
	out := make(map[string]Keypoint)
	for j := Joint(0); j < NumJoints; j++ {
		if p.present[j] {
			out[j.String()] = p.points[j]
		}
	}
	return out
}

// Empty 是否没有任何关键点
func (p Pose) Empty() bool {
	for _, ok := range p.present {
		if ok {
			return false
		}
	}
	return true
}
