package xproxy

import (
	"fmt"
	"log/slog"

	"github.com/omeyang/xlogkit/pkg/observability/xmetrics"
)

// Policy 名称未注册时的处理方式，同一个部署应保持一致
type Policy int

const (
	// PolicyWarnOnce 每个名称提示一次，记录被丢弃（默认）
	PolicyWarnOnce Policy = iota
	// PolicyError 返回包装 [ErrUnresolved] 的错误，不提示
	PolicyError
)

// String 返回策略名称
func (p Policy) String() string {
	switch p {
	case PolicyWarnOnce:
		return "warn_once"
	case PolicyError:
		return "error"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// defaultWarnCapacity 提示记忆的默认容量
const defaultWarnCapacity = 1024

// Option 解析器配置
type Option func(*options)

type options struct {
	policy       Policy
	logger       *slog.Logger
	recorder     *xmetrics.Recorder
	warnCapacity int
}

func defaultOptions() options {
	return options{
		policy:       PolicyWarnOnce,
		logger:       slog.Default(),
		warnCapacity: defaultWarnCapacity,
	}
}

// WithPolicy 设置未注册名称的处理策略
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger 设置未注册提示使用的记录器。默认使用 slog.Default()，传入 nil 被忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r *xmetrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithWarnCapacity 设置提示记忆的容量，超出后最久未提示的名称会再次提示
func WithWarnCapacity(n int) Option {
	return func(o *options) { o.warnCapacity = n }
}
