// Package xproxy 提供按名称转发的 logger 代理。
//
// 代理只记住名称。每次调用都通过 xregistry 解析当前的 Handle 再转发，
// 名称被重新配置或替换为新的 Handle 后，已经分发出去的代理立即写到新目标，
// 不存在持有过期引用的问题。
//
//	res, _ := xproxy.NewResolver(reg)
//	log := res.Proxy("api")
//	log.Info(ctx, "started")           // api 尚未注册时提示一次后丢弃
//	log.File().Error(ctx, "disk full") // 只写文件
//
// # 未注册策略
//
// [PolicyWarnOnce]（默认）对每个名称提示一次并丢弃记录，名称重新注册后提示记忆被清除；
// [PolicyError] 返回包装 [ErrUnresolved] 的错误。策略由 [Resolver] 持有，
// 同一部署内的代理应共享一个解析器。
package xproxy
