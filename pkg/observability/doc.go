// Package observability 提供日志相关的子包。
//
// 子包列表：
//   - xlog: 基于 log/slog 的行日志引擎与具名 Handle
//   - xregistry: 名称到 Handle 的注册表，有序的变更通知
//   - xproxy: 按名称转发的 logger 代理，每次调用都重新解析
//   - xroute: 控制台/文件目的地标记与回退
//   - xrotate: 日志文件轮转、归档命名、压缩与保留清理
//   - xmetrics: 基于 OpenTelemetry 的日志子系统指标
//
// 设计原则：
//   - 注册表由调用方显式创建并传递，不使用包级全局状态
//   - 设置原地更新，Handle 身份不变
//   - 磁盘操作不在写日志的调用路径上执行
package observability
