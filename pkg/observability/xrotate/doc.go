// Package xrotate 提供日志文件轮转、归档命名与保留清理。
//
// Rotator 接口定义了轮转器的核心行为（Write/Close/Rotate/Sync），所有实现并发安全。
//
// # 实现
//
//   - [NewFile]: 按大小或时间边界轮转，归档名由模板按文件实际覆盖的时间区间渲染
//   - [NewLumberjack]: 原生模式，按大小轮转，备份命名与清理交给 lumberjack
//
// # 策略
//
// [ParsePolicy] 解析 "20 MB"、"1 day"、"daily"、"00:00"、"cron:..." 等写法。
// 时间边界由 robfig/cron 计算，因此 "1 day" 的边界是午夜而不是启动后 24 小时。
// [ParseRetention] 解析 "7 days"、"10 files" 或两者的组合，任一条件超限即删除。
//
// # 归档命名
//
// 活动文件名固定（默认 "{name}.log"），轮转时改名为归档。时间策略按覆盖区间的起点渲染，
// 因此 23:58 开始、00:00:05 轮转的日志归入前一天。同名冲突时追加 "_1"、"_2"。
//
// # 故障处理
//
// 写路径只执行一次 rename。改名失败时当前文件继续写入并通过 OnError 上报，
// 连续失败后由 gobreaker 熔断一段时间。压缩失败退化为未压缩归档。
package xrotate
