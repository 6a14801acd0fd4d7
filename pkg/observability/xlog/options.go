package xlog

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/omeyang/xlogkit/pkg/observability/xmetrics"
	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
)

// ReplaceAttrFunc 属性替换函数类型
//
// 用于日志治理场景：字段重命名、敏感信息脱敏、字段过滤等。
// 返回空 Key 的 Attr 时该属性被移除。
type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

// HandleOption Handle 的运行时协作者配置
type HandleOption func(*handleOptions)

type handleOptions struct {
	console     io.Writer
	dispatcher  xrotate.Dispatcher
	recorder    *xmetrics.Recorder
	onError     func(error)
	replaceAttr ReplaceAttrFunc
	newEngine   func() Engine
	clock       func() time.Time
	fileMode    os.FileMode
}

func defaultHandleOptions() handleOptions {
	return handleOptions{
		console:   os.Stderr,
		newEngine: func() Engine { return NewSinkEngine() },
		clock:     time.Now,
	}
}

// WithConsole 设置控制台输出目标，默认 os.Stderr，nil 被忽略
func WithConsole(w io.Writer) HandleOption {
	return func(o *handleOptions) {
		if w != nil {
			o.console = w
		}
	}
}

// WithDispatcher 设置轮转后台任务的调度器（通常是共享的 xpool.Pool[func()]）
func WithDispatcher(d xrotate.Dispatcher) HandleOption {
	return func(o *handleOptions) { o.dispatcher = d }
}

// WithRecorder 设置指标记录器
func WithRecorder(r *xmetrics.Recorder) HandleOption {
	return func(o *handleOptions) { o.recorder = r }
}

// WithOnError 设置内部错误回调
//
// sink 写出失败、轮转失败都会调用。回调在 Handle 的锁之外执行，可以调用注册表
// 或 Handle 自身；回调内再次产生的错误只计数，不会递归回调。
func WithOnError(fn func(error)) HandleOption {
	return func(o *handleOptions) { o.onError = fn }
}

// WithReplaceAttr 设置属性替换函数，在级别名称替换之后执行
func WithReplaceAttr(fn ReplaceAttrFunc) HandleOption {
	return func(o *handleOptions) { o.replaceAttr = fn }
}

// WithEngine 设置引擎工厂，每个 Handle 调用一次，nil 被忽略
func WithEngine(newEngine func() Engine) HandleOption {
	return func(o *handleOptions) {
		if newEngine != nil {
			o.newEngine = newEngine
		}
	}
}

// WithClock 设置记录时间与轮转判断使用的时钟，nil 被忽略
func WithClock(now func() time.Time) HandleOption {
	return func(o *handleOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithFileMode 设置日志文件权限
func WithFileMode(mode os.FileMode) HandleOption {
	return func(o *handleOptions) { o.fileMode = mode }
}
