// Package xpool 提供通用的泛型 worker pool。
//
// 日志轮转的重命名、压缩与保留清理都通过它在后台执行，
// 避免在写日志的调用路径上做磁盘密集操作。
//
// 特性：
//   - 泛型任务类型，New 创建后 worker 立即运行
//   - Submit 永不阻塞，队列满返回 ErrQueueFull，关闭后返回 ErrPoolStopped
//   - Close 等待队列排空；Shutdown(ctx) 支持超时，超时后可通过 Done() 等待残留 worker
//   - 单个任务 panic 被恢复并记录日志（含堆栈），不影响其他任务
//
// # 注意事项
//
//   - Close/Shutdown 不可在 handler 内调用，否则会死锁
//   - panic 的任务不会重试
//   - panic 日志默认只记录 task 类型，WithLogTaskValue 可开启完整值输出
//
// 设计决策: New 返回 *Pool[T] 而非接口。xpool 不需要多实现替换，
// 调用方按需定义自己的窄接口（如只含 Submit 的调度器接口）。
package xpool
