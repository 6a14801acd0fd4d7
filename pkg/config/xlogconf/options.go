package xlogconf

import (
	"log/slog"
	"maps"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
)

// Option 配置项，用于 [New]、[Config.Update]、[Config.Clone] 等
type Option func(*options) error

type options struct {
	s      xlog.Settings
	logger *slog.Logger
}

func (o *options) apply(opts []Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return o.s.Validate()
}

// WithLevel 设置日志级别
func WithLevel(level xlog.Level) Option {
	return func(o *options) error {
		o.s.Level = level
		return nil
	}
}

// WithLogPath 设置日志目录，空值表示只输出控制台
func WithLogPath(path string) Option {
	return func(o *options) error {
		o.s.LogPath = path
		return nil
	}
}

// WithRotation 设置轮转策略，如 "20 MB"、"1 day"、"00:00"
func WithRotation(rotation string) Option {
	return func(o *options) error {
		o.s.Rotation = rotation
		return nil
	}
}

// WithRetention 设置保留策略，如 "30 days"、"10 files"
func WithRetention(retention string) Option {
	return func(o *options) error {
		o.s.Retention = retention
		return nil
	}
}

// WithCompression 设置归档压缩算法：gz、zst、lz4、br，空值不压缩
func WithCompression(compression string) Option {
	return func(o *options) error {
		o.s.Compression = compression
		return nil
	}
}

// WithCompressionFormat 设置归档文件名模板，覆盖轮转粒度的默认模板
func WithCompressionFormat(format string) Option {
	return func(o *options) error {
		o.s.CompressionFormat = format
		return nil
	}
}

// WithSubdirectory 设置日志目录下的子目录
func WithSubdirectory(dir string) Option {
	return func(o *options) error {
		o.s.Subdirectory = dir
		return nil
	}
}

// WithLoggerFormat 设置输出格式：text 或 json
func WithLoggerFormat(format string) Option {
	return func(o *options) error {
		o.s.Format = format
		return nil
	}
}

// WithExtra 合并每条记录携带的固定属性，同名 key 覆盖
func WithExtra(extra map[string]any) Option {
	return func(o *options) error {
		if len(extra) == 0 {
			return nil
		}
		merged := maps.Clone(o.s.Extra)
		if merged == nil {
			merged = make(map[string]any, len(extra))
		}
		maps.Copy(merged, extra)
		o.s.Extra = merged
		return nil
	}
}

// WithNative 使用 lumberjack 原生的按大小轮转与备份命名
func WithNative(native bool) Option {
	return func(o *options) error {
		o.s.Native = native
		return nil
	}
}

// WithCleaner 为日志目录启动周期保留清理
func WithCleaner(cleaner bool) Option {
	return func(o *options) error {
		o.s.Cleaner = cleaner
		return nil
	}
}

// WithPreset 应用轮转预设，设置 rotation、retention 与 compression_format
//
// 预设名见 [Presets]，未知名称返回包装 xlog.ErrInvalidSetting 的错误。
func WithPreset(name string) Option {
	return func(o *options) error {
		p, ok := lookupPreset(name)
		if !ok {
			return &xlog.SettingError{Field: "preset", Value: name, Err: ErrUnknownPreset}
		}
		o.s.Rotation = p.Rotation
		o.s.Retention = p.Retention
		o.s.CompressionFormat = p.CompressionFormat
		return nil
	}
}

// WithLogger 设置配置自身提示（重新归属、未知字段等）使用的记录器。
// 默认使用 slog.Default()，传入 nil 被忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

func defaultOptions() options {
	return options{s: xlog.DefaultSettings(), logger: slog.Default()}
}
