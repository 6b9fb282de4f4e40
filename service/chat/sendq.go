package chat

import (
	errs "XiaoChat/tools/errs"
	"context"
	"sync"
	"sync/atomic"
)

// DropPolicy 队列满时的丢弃策略
type DropPolicy int

const (
	// DropNewest 保序：丢弃新到达的消息（默认）
	DropNewest DropPolicy = iota
	// DropOldest 保鲜：挤掉最老的消息
	DropOldest
)

func ParseDropPolicy(s string) DropPolicy {
	if s == "oldest" {
		return DropOldest
	}
	return DropNewest
}

// EnqueueStatus 单次入队结果
type EnqueueStatus int

const (
	Enqueued EnqueueStatus = iota
	DroppedNew
	DroppedOld
	QueueClosed
)

// Outbound 出站队列元素；Binary 决定写泵用哪种 websocket 帧
type Outbound struct {
	Binary bool
	Data   []byte
}

// SendQueue 每连接独立的有界出站队列。
// 入队与投递解耦：写泵按 FIFO 顺序 Dequeue，传输可写时才真正发出。
// 丢弃不允许静默发生，onDrop 回调用来上报计数。
type SendQueue struct {
	mu     sync.Mutex
	buf    []Outbound
	cap    int
	policy DropPolicy
	notify chan struct{}
	closed bool

	drops  atomic.Uint64
	onDrop func(n uint64)
}

func NewSendQueue(capacity int, policy DropPolicy, onDrop func(n uint64)) *SendQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &SendQueue{
		cap:    capacity,
		policy: policy,
		notify: make(chan struct{}, 1),
		onDrop: onDrop,
	}
}

// Enqueue 非阻塞入队；满时按策略丢弃并记录丢弃事件
func (q *SendQueue) Enqueue(item Outbound) EnqueueStatus {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return QueueClosed
	}
	if len(q.buf) >= q.cap {
		var st EnqueueStatus
		switch q.policy {
		case DropOldest:
			q.buf = append(q.buf[1:], item)
			st = DroppedOld
		default:
			st = DroppedNew
		}
		q.mu.Unlock()
		q.recordDrop()
		if st == DroppedOld {
			q.wake()
		}
		return st
	}
	q.buf = append(q.buf, item)
	q.mu.Unlock()
	q.wake()
	return Enqueued
}

// Dequeue 阻塞式出队；队列关闭且排空后返回 ErrTransportClosed
func (q *SendQueue) Dequeue(ctx context.Context) (Outbound, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			item := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Outbound{}, errs.ErrTransportClosed.Wrap()
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Outbound{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close 关闭队列并丢弃积压；后续 Enqueue 返回 QueueClosed
func (q *SendQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.wake()
}

// CloseAfterDrain 关闭入口但保留积压，写泵可以把剩余消息发完
func (q *SendQueue) CloseAfterDrain() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *SendQueue) Drops() uint64 { return q.drops.Load() }

func (q *SendQueue) recordDrop() {
	n := q.drops.Add(1)
	if q.onDrop != nil {
		q.onDrop(n)
	}
}

func (q *SendQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
