// Package xlogconf 提供可复用、可热更新的 logger 配置。
//
// # 模板与应用
//
// [Config] 是一组 logger 设置。[Config.ApplyTo] 把它应用到一个或多个名称：
// 名称未注册时在 xregistry 中创建 Handle，已注册时原地更新。之后的
// [Config.Update]、[Config.UpdateFrom]、[Config.InheritFrom] 会推送到所有关联名称，
// Handle 身份不变，已经拿到 Handle 或代理的调用方立即看到新设置。
//
//	reg, _ := xregistry.New()
//	cfg, _ := xlogconf.New(reg, xlogconf.WithLogPath("logs"), xlogconf.WithPreset("daily"))
//	_, _ = cfg.ApplyTo("api", "worker")
//	_ = cfg.Update(xlogconf.WithLevel(xlog.LevelDebug)) // api 与 worker 同时生效
//
// [Config.Detach] 只解除关联，Handle 保持当前设置。一个名称同一时刻只属于一个配置；
// 应用到已属于其他配置的名称时记录 WARN 提示并转移归属。
//
// # 克隆与继承
//
// [Config.Clone] 复制设置但不复制关联名称。[Inherit] 与 [Config.InheritFrom]
// 只复制父配置的非空字段。
//
// # 持久化
//
// 文档（JSON 或 YAML）包含九个字段：level、log_path、rotation、retention、compression、
// compression_format、subdirectory、logger_format、extra。native 与 cleaner 只在运行时生效。
// 使用 [Config.Save]、[Load]、[FromBytes]、[Config.Marshal]。[Config.Watch] 基于 fsnotify
// 监视文件并热更新。
//
// # 预设与环境模板
//
// 轮转预设（[WithPreset]）：detailed、simple、daily、hourly、minute、weekly、monthly。
// 环境模板：[Development]、[Production]、[Testing]、[HighPerformance]。
package xlogconf
