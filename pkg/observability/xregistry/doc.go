// Package xregistry 维护 logger 名称到 [xlog.Handle] 的注册表，并提供有序的变更通知。
//
// # 条目
//
// 每个名称至多对应一个存活的 Handle。[Entry.Generation] 在注册新的 Handle 时递增，
// [Entry.Revision] 在原地更新设置时递增。替换或注销产生的旧 Handle
// 在对应通知送达之后才关闭，订阅者在回调中仍可使用它。
//
// # 通知
//
//   - registered: 名称第一次注册，或替换为新的 Handle
//   - updated: 原地更新设置；替换时紧随 registered 之后，[Notification.Previous] 为旧 Handle
//   - unregistered: 注销或 [Registry.Shutdown]
//
// 通知在注册表锁之外按变更顺序送达，订阅者可以在回调中再次调用注册表。
// 单个订阅者 panic 被恢复并记录日志，不影响其他订阅者。
//
// [Registry.Batch] 用于调用方在自己的锁内完成一组变更：通知在 [Batch.Commit] 之前只排队不投递。
//
// # 轮转任务池
//
// 注册表持有一个 xpool 任务池，[Registry.NewHandle] 创建的 Handle 把轮转的重命名、
// 压缩与保留清理交给它执行。[Registry.Shutdown] 关闭全部 Handle 后停止任务池。
package xregistry
