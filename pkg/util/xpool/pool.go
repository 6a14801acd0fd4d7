package xpool

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
)

const (
	maxWorkers   = 1 << 16
	maxQueueSize = 1 << 24
)

// 编译时断言：Pool 满足 io.Closer
var _ io.Closer = (*Pool[int])(nil)

// Pool 泛型 worker pool。
//
// 创建后 worker 立即运行；Submit 永不阻塞；Close/Shutdown 会处理完
// 队列中剩余的任务后再退出。
type Pool[T any] struct {
	handler func(T)
	queue   chan T
	opts    options

	mu     sync.RWMutex // 保护 closed 与 queue 的关闭，避免 send on closed channel
	closed bool

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// New 创建并启动 worker pool。
//
// workers 取值 [1, 65536]，queueSize 取值 [1, 16777216]，handler 不能为 nil。
func New[T any](workers, queueSize int, handler func(T), opts ...Option) (*Pool[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if workers < 1 || workers > maxWorkers {
		return nil, fmt.Errorf("%w: got %d, want 1~%d", ErrInvalidWorkers, workers, maxWorkers)
	}
	if queueSize < 1 || queueSize > maxQueueSize {
		return nil, fmt.Errorf("%w: got %d, want 1~%d", ErrInvalidQueueSize, queueSize, maxQueueSize)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	p := &Pool[T]{
		handler: handler,
		queue:   make(chan T, queueSize),
		opts:    o,
		done:    make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p, nil
}

// worker 只从 queue 读取任务直到 channel 关闭，保证关闭时队列被排空。
func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool[T]) run(task T) {
	defer func() {
		if r := recover(); r != nil {
			attrs := []any{
				"panic", r,
				"task_type", fmt.Sprintf("%T", task),
				"stack", string(debug.Stack()),
			}
			if p.opts.logTaskValue {
				attrs = append(attrs, "task", task)
			}
			if p.opts.name != "" {
				attrs = append(attrs, "pool", p.opts.name)
			}
			p.opts.logger.Error("xpool: worker panic recovered", attrs...)
		}
	}()
	p.handler(task)
}

// Submit 提交任务，不阻塞。
//
// 队列满时返回 [ErrQueueFull]，pool 已关闭时返回 [ErrPoolStopped]。
func (p *Pool[T]) Submit(task T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close 停止接收新任务并无限等待队列排空。
func (p *Pool[T]) Close() error {
	return p.Shutdown(context.Background())
}

// Shutdown 停止接收新任务并等待队列排空。
//
// ctx 到期时立即返回 ctx 错误，残留 worker 仍在后台处理剩余任务，
// 可通过 [Pool.Done] 等待其最终退出。重复调用是安全的。
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 返回在所有 worker 退出后关闭的 channel。
func (p *Pool[T]) Done() <-chan struct{} {
	return p.done
}

// Pending 返回队列中等待处理的任务数。
func (p *Pool[T]) Pending() int {
	return len(p.queue)
}

// RunFunc 执行一个无参任务，nil 任务被忽略。
//
// 用作 Pool[func()] 的 handler：
//
//	p, _ := xpool.New(2, 64, xpool.RunFunc)
//	_ = p.Submit(func() { ... })
func RunFunc(f func()) {
	if f != nil {
		f()
	}
}
