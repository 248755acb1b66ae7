package eventbus

import (
	"sync"
	"sync/atomic"
)

type asyncEvent struct {
	topic string
	args  []interface{}
}

// asyncDispatcher 固定数量 worker 消费有界队列
type asyncDispatcher struct {
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	handle    func(topic string, args ...interface{})

	workers sync.WaitGroup
	pending sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	started bool
	dropped atomic.Int64
}

func newAsyncDispatcher(workerNum, buffer int, handle func(string, ...interface{})) *asyncDispatcher {
	return &asyncDispatcher{
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, buffer),
		stopChan:  make(chan struct{}),
		handle:    handle,
	}
}

func (d *asyncDispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workerNum; i++ {
		d.workers.Add(1)
		go d.worker()
	}
}

func (d *asyncDispatcher) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	close(d.stopChan)
	d.mu.Unlock()

	if started {
		d.workers.Wait()
	}
	// 未启动或 worker 已退出时，剩余事件在当前 goroutine 处理
	d.flush()
}

func (d *asyncDispatcher) enqueue(topic string, args []interface{}) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped.Add(1)
		return false
	}
	d.pending.Add(1)
	select {
	case d.workChan <- asyncEvent{topic: topic, args: args}:
		return true
	default:
		d.pending.Done()
		d.dropped.Add(1)
		return false
	}
}

func (d *asyncDispatcher) drain() {
	d.pending.Wait()
}

func (d *asyncDispatcher) worker() {
	defer d.workers.Done()
	for {
		select {
		case <-d.stopChan:
			d.flush()
			return
		case event := <-d.workChan:
			d.run(event)
		}
	}
}

func (d *asyncDispatcher) flush() {
	for {
		select {
		case event := <-d.workChan:
			d.run(event)
		default:
			return
		}
	}
}

func (d *asyncDispatcher) run(event asyncEvent) {
	defer d.pending.Done()
	d.handle(event.topic, event.args...)
}
