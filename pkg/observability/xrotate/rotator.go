package xrotate

import "io"

// 编译时断言：Rotator 接口是 io.WriteCloser 的超集
var _ io.WriteCloser = (Rotator)(nil)

// Rotator 日志轮转器接口
//
// 隐式实现 [io.WriteCloser]，可直接作为 slog handler 的输出目标。
// 所有实现都必须是并发安全的。
//
// 约定：
//   - Close 后调用 Write、Rotate 返回 [ErrClosed]，重复 Close 也返回 [ErrClosed]
//   - Close 会等待已排队的后台轮转任务完成
//   - Rotate 可以在任意时刻调用
type Rotator interface {
	// Write 写入日志数据，满足轮转条件时先轮转
	Write(p []byte) (n int, err error)

	// Close 关闭轮转器，释放资源
	Close() error

	// Rotate 手动触发轮转
	Rotate() error

	// Sync 把已写入的数据刷到磁盘，并等待已排队的后台任务完成
	Sync() error
}

// Dispatcher 后台任务调度器
//
// xpool.Pool[func()] 满足该接口。Submit 返回错误时轮转器改用独立 goroutine 执行任务，
// 任务不会丢失。
type Dispatcher interface {
	Submit(task func()) error
}
