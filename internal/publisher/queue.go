// Package publisher 把报警状态变化和求助信号异步发布到 Redis / MQTT
//
// 状态机回调在状态锁内同步执行，这里只入队，由独立 worker 完成网络 IO。
// 队列满时丢弃并记录告警。
package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const drainTimeout = 2 * time.Second

type job struct {
	kind string
	fn   func(ctx context.Context) error
}

// worker 单 goroutine 顺序执行任务，保证发布顺序与状态变化顺序一致
type worker struct {
	name    string
	jobs    chan job
	logger  *zap.Logger
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newWorker(name string, size int, logger *zap.Logger) *worker {
	if size <= 0 {
		size = 1
	}
	return &worker{
		name:   name,
		jobs:   make(chan job, size),
		logger: logger,
	}
}

// enqueue 非阻塞入队
func (w *worker) enqueue(kind string, fn func(ctx context.Context) error) bool {
	select {
	case w.jobs <- job{kind: kind, fn: fn}:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("Publish queue full, dropping",
			zap.String("publisher", w.name),
			zap.String("kind", kind),
		)
		return false
	}
}

// run 处理任务直到 ctx 取消，取消后尽量发完队列中剩余任务
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case j := <-w.jobs:
			w.exec(ctx, j)
		}
	}
}

func (w *worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case j := <-w.jobs:
			w.exec(ctx, j)
		default:
			return
		}
	}
}

func (w *worker) exec(ctx context.Context, j job) {
	if err := j.fn(ctx); err != nil {
		w.failed.Add(1)
		// 记录错误，继续处理下一条
		w.logger.Error("Failed to publish",
			zap.String("publisher", w.name),
			zap.String("kind", j.kind),
			zap.Error(err),
		)
	}
}

// Stats 发布统计
type Stats struct {
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (w *worker) stats() Stats {
	return Stats{Dropped: w.dropped.Load(), Failed: w.failed.Load()}
}
