package xpool

import "errors"

var (
	// ErrNilHandler 未提供任务处理函数
	ErrNilHandler = errors.New("xpool: handler is required")

	// ErrPoolStopped 任务池已关闭，提交被拒绝
	ErrPoolStopped = errors.New("xpool: pool is stopped")

	// ErrQueueFull 队列已满，提交不阻塞直接返回
	ErrQueueFull = errors.New("xpool: queue is full")

	// ErrInvalidWorkers worker 数量必须为正
	ErrInvalidWorkers = errors.New("xpool: workers must be positive")

	// ErrInvalidQueueSize 队列长度必须为正
	ErrInvalidQueueSize = errors.New("xpool: queue size must be positive")

	// ErrNilContext Shutdown 收到 nil context
	ErrNilContext = errors.New("xpool: context is required")
)
