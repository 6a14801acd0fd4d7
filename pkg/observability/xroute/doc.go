// Package xroute 提供日志记录的目的地标记与路由判定。
//
// 每条记录携带一个 [Tags] 位掩码：
//   - 零值：所有目的地可见
//   - [ConsoleOnly]：仅控制台 sink 接收
//   - [FileOnly]：仅文件 sink 接收
//
// 每个 sink 在注册时绑定一个 [Destination]，使用 [Accepts] 做 O(1) 判定：
// 控制台 sink 拒绝 FileOnly 记录，文件 sink 拒绝 ConsoleOnly 记录。
//
// # 回退策略
//
// [Table] 记录某个 logger 实际配置了哪些目的地。当记录只允许去往一个
// 未配置的目的地时（例如没有文件 sink 却调用了文件专用方法），
// [Table.Resolve] 把它改写到另一个目的地，并报告发生了回退，
// 调用方据此只告警一次。
//
// 本包不依赖任何其他 xlogkit 包。
package xroute
