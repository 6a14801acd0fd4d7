package xlog

import (
	"context"
	"log/slog"

	"github.com/omeyang/xlogkit/pkg/observability/xroute"
)

// 编译时接口检查
var _ Logger = View{}

// View 绑定目的地标记与固定属性的 Logger
//
// View 是值类型，派生操作返回新值，不修改原值。
// View 本身不持有任何输出资源，每次调用都转发给 Emitter。
type View struct {
	target Emitter
	tags   xroute.Tags
	attrs  []slog.Attr
}

// NewView 创建无标记、无固定属性的 View
func NewView(target Emitter) View {
	return View{target: target}
}

// Tags 返回当前目的地标记
func (v View) Tags() xroute.Tags { return v.tags }

// Log 以任意级别记录日志
func (v View) Log(ctx context.Context, level Level, msg string, attrs ...slog.Attr) error {
	if v.target == nil {
		return ErrClosed
	}
	if len(v.attrs) > 0 {
		merged := make([]slog.Attr, 0, len(v.attrs)+len(attrs))
		merged = append(merged, v.attrs...)
		attrs = append(merged, attrs...)
	}
	return v.target.Emit(ctx, level, v.tags, msg, attrs...)
}

// Trace 记录 TRACE 级别日志
func (v View) Trace(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelTrace, msg, attrs...)
}

// Debug 记录 DEBUG 级别日志
func (v View) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelDebug, msg, attrs...)
}

// Info 记录 INFO 级别日志
func (v View) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelInfo, msg, attrs...)
}

// Success 记录 SUCCESS 级别日志
func (v View) Success(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelSuccess, msg, attrs...)
}

// Warn 记录 WARN 级别日志
func (v View) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelWarn, msg, attrs...)
}

// Error 记录 ERROR 级别日志
func (v View) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelError, msg, attrs...)
}

// Critical 记录 CRITICAL 级别日志
func (v View) Critical(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = v.Log(ctx, LevelCritical, msg, attrs...)
}

// Console 只输出到控制台
func (v View) Console() Logger { return v.only(xroute.Console) }

// File 只输出到文件
func (v View) File() Logger { return v.only(xroute.File) }

// Dev 等同于 Console
func (v View) Dev() Logger { return v.Console() }

// With 追加固定属性，原 View 不受影响
func (v View) With(attrs ...slog.Attr) Logger {
	if len(attrs) == 0 {
		return v
	}
	merged := make([]slog.Attr, 0, len(v.attrs)+len(attrs))
	merged = append(merged, v.attrs...)
	v.attrs = append(merged, attrs...)
	return v
}

// only 后设置的目的地覆盖之前的标记
func (v View) only(d xroute.Destination) View {
	v.tags = xroute.Only(d)
	return v
}
