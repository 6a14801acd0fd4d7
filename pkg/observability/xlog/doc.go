// Package xlog 基于 log/slog 的行日志引擎与具名 Handle。
//
// # 组成
//
//   - [Engine]: sink 注册、级别过滤与分发的最小接口，[SinkEngine] 是基于 slog.Handler 的实现
//   - [Handle]: 一个具名 logger，持有控制台与可选的文件 sink，设置可原地替换
//   - [Settings]: Handle 的完整设置，[Settings.Validate] 返回 [*SettingError]
//   - [Logger]/[View]: 面向调用方的级别方法与目的地视图
//
// # 日志级别
//
// 在 slog 四个级别之外增加 TRACE(-8)、SUCCESS(2)、CRITICAL(12)。
// [ParseLevel] 不区分大小写，WARNING 是 WARN 的别名。
//
// # 目的地
//
// 每条记录带有 xroute.Tags。[View.Console] 的记录不会进入文件 sink，
// [View.File] 的记录不会进入控制台 sink，无标记的记录两边都会输出。
// 记录被限定到未配置的目的地时，Handle 把它改投到另一个目的地并提示一次，
// 提示状态在下一次 [Handle.Apply] 时重置。
//
// # 原地更新
//
// [Handle.Apply] 保持 Handle 身份不变。文件相关设置（路径、轮转、保留、压缩、命名）
// 不变时沿用已打开的轮转器，只替换级别、格式与固定属性。
//
// # 便捷属性
//
// [Err]、[Duration]、[Component]、[Operation]、[Count]、[Path]。
package xlog
