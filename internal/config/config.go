package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-fall/internal/fusion"
	"wisefido-fall/internal/pipeline"
	"wisefido-fall/internal/pose"
)

// 帧来源类型
const (
	SourceNone  = "none"  // 仅接受 HTTP / 外部写入
	SourceMQTT  = "mqtt"  // 订阅摄像头帧主题
	SourceVideo = "video" // 循环播放视频文件（需要 gocv 构建标签）
)

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int

	KeyPrefix    string        // 报警状态键前缀，如 "fall:device:"
	AlertTTL     time.Duration // 报警状态 TTL，0 表示不过期
	Stream       string        // 报警事件流
	StreamMaxLen int64         // 事件流近似最大长度
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte

	// 主题模板，{device} 会被替换为设备ID
	FrameTopic string
	AlertTopic string
	HelpTopic  string
}

// Config 摔倒检测服务配置
type Config struct {
	DeviceID string

	HTTP struct {
		Addr string
	}

	Redis RedisConfig
	MQTT  MQTTConfig

	Inference struct {
		DetectorURL  string
		EstimatorURL string
		Timeout      time.Duration
	}

	Source struct {
		Type      string
		VideoPath string
		FPS       int
	}

	Detection struct {
		Fusion           fusion.Params
		Pose             pose.Params
		Pipeline         pipeline.Config
		AutoStart        bool
		PublishQueueSize int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DeviceID = getEnv("DEVICE_ID", "camera-01")
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	// Redis
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", true)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.KeyPrefix = getEnv("CACHE_ALERT_PREFIX", "fall:device:")
	cfg.Redis.AlertTTL = time.Duration(getEnvInt("CACHE_ALERT_TTL", 0)) * time.Second
	cfg.Redis.Stream = getEnv("ALERT_STREAM", "fall:events:stream")
	cfg.Redis.StreamMaxLen = int64(getEnvInt("ALERT_STREAM_MAXLEN", 10000))

	// MQTT
	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", true)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-fall")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	qos := getEnvInt("MQTT_QOS", 1)
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	cfg.MQTT.QoS = byte(qos)
	cfg.MQTT.FrameTopic = getEnv("MQTT_FRAME_TOPIC", "camera/{device}/frame")
	cfg.MQTT.AlertTopic = getEnv("MQTT_ALERT_TOPIC", "fall/{device}/alert")
	cfg.MQTT.HelpTopic = getEnv("MQTT_HELP_TOPIC", "fall/{device}/help")

	// 推理服务
	cfg.Inference.DetectorURL = getEnv("DETECTOR_URL", "http://localhost:9000")
	cfg.Inference.EstimatorURL = getEnv("ESTIMATOR_URL", cfg.Inference.DetectorURL)
	cfg.Inference.Timeout = time.Duration(getEnvInt("INFERENCE_TIMEOUT_MS", 2000)) * time.Millisecond

	// 帧来源
	cfg.Source.Type = strings.ToLower(getEnv("SOURCE_TYPE", SourceMQTT))
	cfg.Source.VideoPath = getEnv("VIDEO_PATH", "")
	cfg.Source.FPS = getEnvInt("VIDEO_FPS", 30)

	// 检测参数
	fusionParams := fusion.DefaultParams()
	fusionParams.FallLabel = getEnv("FALL_LABEL", fusionParams.FallLabel)
	fusionParams.ClassifierThreshold = getEnvFloat("CLASSIFIER_THRESHOLD", fusionParams.ClassifierThreshold)
	poseFrames := getEnvInt("POSE_FRAME_THRESHOLD", int(fusionParams.PoseFrameThreshold))
	if poseFrames < 1 || int64(poseFrames) > math.MaxUint32 {
		return nil, fmt.Errorf("POSE_FRAME_THRESHOLD must be in [1, %d], got %d", uint32(math.MaxUint32), poseFrames)
	}
	fusionParams.PoseFrameThreshold = uint32(poseFrames)
	cfg.Detection.Fusion = fusionParams

	poseParams := pose.DefaultParams()
	poseParams.TrunkWeight = getEnvFloat("POSE_TRUNK_WEIGHT", poseParams.TrunkWeight)
	poseParams.TrunkNormDeg = getEnvFloat("POSE_TRUNK_NORM_DEG", poseParams.TrunkNormDeg)
	poseParams.LegWeight = getEnvFloat("POSE_LEG_WEIGHT", poseParams.LegWeight)
	poseParams.LegNormAngleDeg = getEnvFloat("POSE_LEG_NORM_ANGLE_DEG", poseParams.LegNormAngleDeg)
	poseParams.LegNormRangeDeg = getEnvFloat("POSE_LEG_NORM_RANGE_DEG", poseParams.LegNormRangeDeg)
	poseParams.FallThreshold = getEnvFloat("POSE_FALL_THRESHOLD", poseParams.FallThreshold)
	cfg.Detection.Pose = poseParams

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.TickInterval = time.Duration(getEnvInt("TICK_INTERVAL_MS", int(pipelineCfg.TickInterval/time.Millisecond))) * time.Millisecond
	pipelineCfg.SkipWhileAlerted = getEnvBool("SKIP_WHILE_ALERTED", false)
	cfg.Detection.Pipeline = pipelineCfg

	cfg.Detection.AutoStart = getEnvBool("AUTO_START", true)
	cfg.Detection.PublishQueueSize = getEnvInt("PUBLISH_QUEUE_SIZE", 64)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID must not be empty")
	}
	if err := c.Detection.Fusion.Validate(); err != nil {
		return fmt.Errorf("invalid fusion params: %w", err)
	}
	if err := c.Detection.Pose.Validate(); err != nil {
		return fmt.Errorf("invalid pose params: %w", err)
	}
	if c.Detection.Pipeline.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if c.Detection.PublishQueueSize <= 0 {
		return fmt.Errorf("PUBLISH_QUEUE_SIZE must be positive")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT_MS must be positive")
	}
	if c.Redis.AlertTTL < 0 {
		return fmt.Errorf("CACHE_ALERT_TTL must not be negative")
	}
	if c.Redis.StreamMaxLen < 0 {
		return fmt.Errorf("ALERT_STREAM_MAXLEN must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	switch c.Source.Type {
	case SourceNone:
	case SourceMQTT:
		if !c.MQTT.Enabled {
			return fmt.Errorf("SOURCE_TYPE=mqtt requires MQTT_ENABLED=true")
		}
	case SourceVideo:
		if c.Source.VideoPath == "" {
			return fmt.Errorf("SOURCE_TYPE=video requires VIDEO_PATH")
		}
		if c.Source.FPS <= 0 {
			return fmt.Errorf("VIDEO_FPS must be positive")
		}
	default:
		return fmt.Errorf("unknown SOURCE_TYPE: %s", c.Source.Type)
	}

	return nil
}

// Topic 展开主题模板
func (c *MQTTConfig) Topic(template, deviceID string) string {
	return strings.ReplaceAll(template, "{device}", deviceID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
