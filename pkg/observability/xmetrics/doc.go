// Package xmetrics 提供日志配置核心的 OpenTelemetry 指标记录。
//
// [Recorder] 持有一组固定的 instrument，所有方法对 nil 接收者安全，
// 未配置指标时调用方无需判空。
//
// # 使用示例
//
//	rec, err := xmetrics.NewRecorder(xmetrics.WithMeterProvider(mp))
//	if err != nil {
//		return err
//	}
//	reg := xregistry.New(xregistry.WithRecorder(rec))
//
// # 指标命名
//
//   - xlogkit.rotation.total       轮转次数（logger / trigger / status）
//   - xlogkit.rotation.duration    轮转后台任务耗时（秒）
//   - xlogkit.retention.removed    保留策略删除的归档数（logger）
//   - xlogkit.registry.events      注册表事件数（event）
//   - xlogkit.proxy.unresolved     代理解析失败次数（logger）
//   - xlogkit.route.fallback       目的地回退次数（logger / to）
package xmetrics
