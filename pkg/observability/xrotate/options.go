package xrotate

import (
	"fmt"
	"os"
	"time"

	"github.com/omeyang/xlogkit/pkg/observability/xmetrics"
)

// 默认配置值
const (
	// DefaultMaxSizeMB 原生模式默认单个日志文件最大大小（MB）
	DefaultMaxSizeMB = 500

	// DefaultMaxBackups 原生模式默认保留的备份文件数量
	DefaultMaxBackups = 7

	// DefaultMaxAgeDays 原生模式默认保留备份的天数
	DefaultMaxAgeDays = 30

	// DefaultRenameAttempts 归档重命名的默认尝试次数（含首次）
	DefaultRenameAttempts = 3

	// DefaultRenameDelay 归档重命名重试间隔
	DefaultRenameDelay = 20 * time.Millisecond

	// DefaultBreakerThreshold 连续多少次轮转失败后暂停轮转
	DefaultBreakerThreshold = 3

	// DefaultBreakerTimeout 暂停轮转后多久再次尝试
	DefaultBreakerTimeout = 30 * time.Second

	// DefaultCleanerSchedule 周期清理的默认调度
	DefaultCleanerSchedule = "@every 1h"

	defaultFileMode os.FileMode = 0o640

	maxSizeMB  = 10240
	maxBackups = 1024
	maxAgeDays = 3650
)

// config 轮转器与清理器的配置
//
// 各构造函数只读取自己用到的字段。
type config struct {
	// 原生（lumberjack）模式
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool

	// 命名与策略
	name            string
	policy          Policy
	retention       Retention
	codec           Codec
	archiveTemplate string

	// 运行时协作者
	clock      func() time.Time
	dispatcher Dispatcher
	recorder   *xmetrics.Recorder
	schedule   string

	renameAttempts   uint
	renameDelay      time.Duration
	breakerThreshold uint32
	breakerTimeout   time.Duration
	rename           func(oldpath, newpath string) error

	// FileMode 日志文件权限，0 表示默认值
	FileMode os.FileMode

	// OnError 内部错误回调，默认为 nil（静默忽略）
	//
	// 回调不得向同一 Rotator 写入数据，否则会递归死锁。
	OnError func(error)
}

func defaultConfig() config {
	return config{
		MaxSizeMB:        DefaultMaxSizeMB,
		MaxBackups:       DefaultMaxBackups,
		MaxAgeDays:       DefaultMaxAgeDays,
		Compress:         true,
		codec:            noneCodec{},
		clock:            time.Now,
		schedule:         DefaultCleanerSchedule,
		renameAttempts:   DefaultRenameAttempts,
		renameDelay:      DefaultRenameDelay,
		breakerThreshold: DefaultBreakerThreshold,
		breakerTimeout:   DefaultBreakerTimeout,
		rename:           os.Rename,
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// validateFileMode FileMode 仅允许权限位（低 9 位）
func validateFileMode(mode os.FileMode) error {
	if mode != 0 && mode&^os.FileMode(0o777) != 0 {
		return fmt.Errorf("%w: got %04o, only permission bits (0000~0777) allowed", ErrInvalidFileMode, mode)
	}
	return nil
}

func (c *config) fileMode() os.FileMode {
	if c.FileMode == 0 {
		return defaultFileMode
	}
	return c.FileMode
}

// Option 轮转器配置选项函数
type Option func(*config)

// WithMaxSize 设置原生模式单个日志文件最大大小（MB）
func WithMaxSize(mb int) Option {
	return func(c *config) { c.MaxSizeMB = mb }
}

// WithMaxBackups 设置原生模式保留的备份文件数量
func WithMaxBackups(n int) Option {
	return func(c *config) { c.MaxBackups = n }
}

// WithMaxAge 设置原生模式保留备份的天数
func WithMaxAge(days int) Option {
	return func(c *config) { c.MaxAgeDays = days }
}

// WithCompress 设置原生模式是否 gzip 压缩备份
func WithCompress(compress bool) Option {
	return func(c *config) { c.Compress = compress }
}

// WithLocalTime 设置原生模式备份文件名是否使用本地时间
func WithLocalTime(local bool) Option {
	return func(c *config) { c.LocalTime = local }
}

// WithFileMode 设置日志文件权限
func WithFileMode(mode os.FileMode) Option {
	return func(c *config) { c.FileMode = mode }
}

// WithOnError 设置错误回调函数
//
// 设计决策: 不使用 slog 记录内部错误，避免 Rotator 作为日志输出目标时
// 产生递归写入（写失败 → 打日志 → 再写失败）。
func WithOnError(fn func(error)) Option {
	return func(c *config) { c.OnError = fn }
}

// WithName 设置渲染 {name} 使用的 logger 名称，默认取活动文件名去掉扩展名
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithPolicy 设置轮转策略
func WithPolicy(p Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithRetention 设置保留策略
func WithRetention(r Retention) Option {
	return func(c *config) { c.retention = r }
}

// WithCodec 设置归档压缩算法，nil 表示不压缩
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec == nil {
			codec = noneCodec{}
		}
		c.codec = codec
	}
}

// WithArchiveTemplate 设置归档名模板，覆盖按粒度选择的默认模板
func WithArchiveTemplate(tmpl string) Option {
	return func(c *config) { c.archiveTemplate = tmpl }
}

// WithClock 设置时间来源，nil 被忽略
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithDispatcher 设置后台任务调度器，默认每次轮转启动一个 goroutine
func WithDispatcher(d Dispatcher) Option {
	return func(c *config) { c.dispatcher = d }
}

// WithRecorder 设置指标记录器
func WithRecorder(r *xmetrics.Recorder) Option {
	return func(c *config) { c.recorder = r }
}

// WithRenameRetry 设置归档重命名的尝试次数与间隔
func WithRenameRetry(attempts uint, delay time.Duration) Option {
	return func(c *config) {
		if attempts > 0 {
			c.renameAttempts = attempts
		}
		if delay >= 0 {
			c.renameDelay = delay
		}
	}
}

// WithBreaker 设置轮转熔断：连续 threshold 次失败后暂停轮转 timeout
func WithBreaker(threshold uint32, timeout time.Duration) Option {
	return func(c *config) {
		if threshold > 0 {
			c.breakerThreshold = threshold
		}
		if timeout > 0 {
			c.breakerTimeout = timeout
		}
	}
}

// WithSchedule 设置清理器的 cron 调度（支持 "@every 10m" 等描述符）
func WithSchedule(spec string) Option {
	return func(c *config) {
		if spec != "" {
			c.schedule = spec
		}
	}
}
