// xlog.go 定义核心接口：Emitter、Logger
//
// 设计理念：
//   - 强制 context 传递，确保追踪信息传播
//   - 唯一的转发原语 Emit，级别方法与目的地视图都建立在它之上
//   - 目的地标记只用于路由，不出现在输出内容中
//   - 类型安全，方法签名只接受 slog.Attr
package xlog

import (
	"context"
	"log/slog"

	"github.com/omeyang/xlogkit/pkg/observability/xroute"
)

// Emitter 记录的最终接收方
//
// [*Handle] 直接写出；代理类实现在每次调用时解析目标后再转发。
type Emitter interface {
	Emit(ctx context.Context, level Level, tags xroute.Tags, msg string, attrs ...slog.Attr) error
}

// Logger 日志接口
//
// 级别方法丢弃错误，需要感知写出失败时使用 Log。
type Logger interface {
	// Trace 记录 TRACE 级别日志
	Trace(ctx context.Context, msg string, attrs ...slog.Attr)

	// Debug 记录 DEBUG 级别日志
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)

	// Info 记录 INFO 级别日志
	Info(ctx context.Context, msg string, attrs ...slog.Attr)

	// Success 记录 SUCCESS 级别日志
	Success(ctx context.Context, msg string, attrs ...slog.Attr)

	// Warn 记录 WARN 级别日志
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)

	// Error 记录 ERROR 级别日志
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// Critical 记录 CRITICAL 级别日志
	Critical(ctx context.Context, msg string, attrs ...slog.Attr)

	// Log 以任意级别记录日志并返回写出错误
	Log(ctx context.Context, level Level, msg string, attrs ...slog.Attr) error

	// Console 返回只输出到控制台的派生 Logger
	Console() Logger

	// File 返回只输出到文件的派生 Logger
	//
	// 没有配置文件输出时记录改投控制台，并提示一次。
	File() Logger

	// Dev 开发期输出，等同于 Console
	Dev() Logger

	// With 返回带额外属性的派生 Logger
	With(attrs ...slog.Attr) Logger
}
