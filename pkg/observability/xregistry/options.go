package xregistry

import (
	"log/slog"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xmetrics"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
)

// Option 注册表配置
type Option func(*options)

type options struct {
	logger     *slog.Logger
	handleOpts []xlog.HandleOption
	workers    int
	queueSize  int
	recorder   *xmetrics.Recorder
}

func defaultOptions() options {
	return options{
		logger:    slog.Default(),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
}

// WithLogger 设置注册表自身提示（订阅者 panic 等）使用的记录器。
// 默认使用 slog.Default()，传入 nil 被忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHandleOptions 追加 [Registry.NewHandle] 创建 Handle 时使用的选项
func WithHandleOptions(opts ...xlog.HandleOption) Option {
	return func(o *options) {
		o.handleOpts = append(o.handleOpts, opts...)
	}
}

// WithWorkers 设置轮转后台任务池的 worker 数与队列长度，非正值被忽略
func WithWorkers(workers, queueSize int) Option {
	return func(o *options) {
		if workers > 0 {
			o.workers = workers
		}
		if queueSize > 0 {
			o.queueSize = queueSize
		}
	}
}

// WithRecorder 设置指标记录器，同时传给注册表创建的所有 Handle
func WithRecorder(r *xmetrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// RegisterOption 单次注册/更新的配置
type RegisterOption func(*registerOptions)

type registerOptions struct {
	owner    any
	setOwner bool
	ifOwner  any
	checkIf  bool
}

// WithOwner 设置条目的所有者（通常是创建它的配置对象），owner 必须是可比较的值
func WithOwner(owner any) RegisterOption {
	return func(o *registerOptions) {
		o.owner = owner
		o.setOwner = true
	}
}

// IfOwner 只在条目当前的所有者为 owner 时更新，否则返回 [ErrNotOwner]
//
// 用于所有者在不持有注册表锁的情况下安全地推送设置：条目已被其他所有者接管时不会被覆盖。
func IfOwner(owner any) RegisterOption {
	return func(o *registerOptions) {
		o.ifOwner = owner
		o.checkIf = true
	}
}

func newRegisterOptions(opts []RegisterOption) registerOptions {
	var o registerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
