package eventbus

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"

	"vision-analyzer-go/internal/platform/logging"
)

const defaultWorkers = 4

// Bus 同步 + 异步事件总线。
// 订阅函数的参数类型必须与发布时的参数一致，否则处理时会被 recover 并记录。
type Bus struct {
	bus    evbus.Bus
	async  *asyncDispatcher
	logger *logging.Logger
}

// New 创建事件总线，workerNum<=0 时使用默认 worker 数
func New(workerNum int, logger *logging.Logger) *Bus {
	if workerNum <= 0 {
		workerNum = defaultWorkers
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bus{
		bus:    evbus.New(),
		logger: logger,
	}
	b.async = newAsyncDispatcher(workerNum, 1000, b.dispatch)
	return b
}

// Start 启动异步 worker
func (b *Bus) Start() {
	b.async.start()
}

// Stop 停止异步 worker，队列中剩余事件会先被处理完
func (b *Bus) Stop() {
	b.async.stop()
}

// Publish 同步发布事件，在调用方 goroutine 中执行全部订阅者
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.dispatch(topic, args...)
}

// PublishAsync 异步发布事件。队列已满或总线已停止时事件被丢弃并返回 false
func (b *Bus) PublishAsync(topic string, args ...interface{}) bool {
	if !b.async.enqueue(topic, args) {
		b.logger.WarnTag("事件", "异步队列不可用，丢弃事件 %s", topic)
		return false
	}
	return true
}

// Subscribe 订阅事件
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// HasCallback 检查是否有订阅者
func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}

// Drain 等待已入队的异步事件处理完成（用于测试与优雅退出）
func (b *Bus) Drain() {
	b.async.drain()
}

// Dropped 返回被丢弃的异步事件数量
func (b *Bus) Dropped() int64 {
	return b.async.dropped.Load()
}

func (b *Bus) dispatch(topic string, args ...interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorTag("事件", "处理事件 %s 时发生 panic: %v", topic, r)
		}
	}()
	b.bus.Publish(topic, args...)
}
