package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-fall/internal/alert"
	"wisefido-fall/internal/config"
	"wisefido-fall/internal/models"
	"wisefido-fall/internal/redis"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher 报警状态缓存 + 报警事件流
//
//	SET  {prefix}{device}:alert  AlertState JSON
//	XADD {stream}                AlertEvent（仅 Idle/Alerted 切换和求助）
type RedisPublisher struct {
	cfg      config.RedisConfig
	deviceID string
	client   *goredis.Client
	kv       redis.KVStore
	builder  *alert.EventBuilder
	worker   *worker
	logger   *zap.Logger

	lastActive bool // 仅在回调中访问（状态锁内）
}

// NewRedisPublisher 创建 Redis 发布器
func NewRedisPublisher(cfg config.RedisConfig, deviceID string, client *goredis.Client, queueSize int, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		cfg:      cfg,
		deviceID: deviceID,
		client:   client,
		kv:       redis.NewRedisKVStore(client),
		builder:  alert.NewEventBuilder(deviceID),
		worker:   newWorker("redis", queueSize, logger),
		logger:   logger,
	}
}

// AlertKey 报警状态缓存键
func (p *RedisPublisher) AlertKey() string {
	return p.cfg.KeyPrefix + p.deviceID + ":alert"
}

// CachedState 读取缓存中的报警状态快照（下游看到的版本）
// 尚未写入时返回 redis.ErrCacheMiss
func (p *RedisPublisher) CachedState(ctx context.Context) (models.AlertState, error) {
	raw, err := p.kv.Get(ctx, p.AlertKey())
	if err != nil {
		return models.AlertState{}, err
	}

	var state models.AlertState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.AlertState{}, fmt.Errorf("failed to decode cached alert state: %w", err)
	}
	return state, nil
}

// OnAlertChanged 实现 alert.ChangeFunc
func (p *RedisPublisher) OnAlertChanged(state models.AlertState) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("Failed to marshal alert state", zap.Error(err))
		return
	}

	p.worker.enqueue("state", func(ctx context.Context) error {
		if err := p.kv.Set(ctx, p.AlertKey(), string(stateJSON), p.cfg.AlertTTL); err != nil {
			return fmt.Errorf("failed to cache alert state: %w", err)
		}
		return nil
	})

	// 置信度刷新不写事件流
	if state.Active == p.lastActive {
		return
	}
	p.lastActive = state.Active

	event, err := p.builder.FromState(state)
	if err != nil {
		p.logger.Error("Failed to build alert event", zap.Error(err))
		return
	}
	p.enqueueEvent(event)
}

// OnHelpRequested 实现 alert.HelpFunc
func (p *RedisPublisher) OnHelpRequested(req models.HelpRequest) {
	event, err := p.builder.FromHelpRequest(req)
	if err != nil {
		p.logger.Error("Failed to build help event", zap.Error(err))
		return
	}
	p.enqueueEvent(event)
}

func (p *RedisPublisher) enqueueEvent(event *models.AlertEvent) {
	p.worker.enqueue(event.EventType, func(ctx context.Context) error {
		id, err := redis.PublishJSONToStream(ctx, p.client, p.cfg.Stream, p.cfg.StreamMaxLen, event)
		if err != nil {
			return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
		}

		p.logger.Info("Alert event published",
			zap.String("stream", p.cfg.Stream),
			zap.String("message_id", id),
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
		)
		return nil
	})
}

// Run 启动 worker，阻塞到 ctx 取消
func (p *RedisPublisher) Run(ctx context.Context) {
	p.worker.run(ctx)
}

// Stats 发布统计
func (p *RedisPublisher) Stats() Stats {
	return p.worker.stats()
}
