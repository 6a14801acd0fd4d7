package xlogconf

import (
	"maps"
	"slices"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
)

// 持久化文档的字段名
const (
	KeyLevel             = "level"
	KeyLogPath           = "log_path"
	KeyRotation          = "rotation"
	KeyRetention         = "retention"
	KeyCompression       = "compression"
	KeyCompressionFormat = "compression_format"
	KeySubdirectory      = "subdirectory"
	KeyLoggerFormat      = "logger_format"
	KeyExtra             = "extra"
)

// persistedKeys 文档中出现且仅出现的字段，顺序即输出顺序
var persistedKeys = []string{
	KeyLevel, KeyLogPath, KeyRotation, KeyRetention, KeyCompression,
	KeyCompressionFormat, KeySubdirectory, KeyLoggerFormat, KeyExtra,
}

func isPersistedKey(key string) bool {
	return slices.Contains(persistedKeys, key)
}

// Fields 配置的持久化形式
//
// 只包含文档中的九个字段，Native 与 Cleaner 只在运行时生效。
type Fields struct {
	Level             string         `koanf:"level"`
	LogPath           string         `koanf:"log_path"`
	Rotation          string         `koanf:"rotation"`
	Retention         string         `koanf:"retention"`
	Compression       string         `koanf:"compression"`
	CompressionFormat string         `koanf:"compression_format"`
	Subdirectory      string         `koanf:"subdirectory"`
	LoggerFormat      string         `koanf:"logger_format"`
	Extra             map[string]any `koanf:"extra"`
}

// fieldsOf 从设置提取持久化字段
func fieldsOf(s xlog.Settings) Fields {
	return Fields{
		Level:             s.Level.String(),
		LogPath:           s.LogPath,
		Rotation:          s.Rotation,
		Retention:         s.Retention,
		Compression:       s.Compression,
		CompressionFormat: s.CompressionFormat,
		Subdirectory:      s.Subdirectory,
		LoggerFormat:      s.Format,
		Extra:             maps.Clone(s.Extra),
	}
}

// Settings 以 base 的运行时字段为基础转换为 xlog.Settings
func (f Fields) Settings(base xlog.Settings) (xlog.Settings, error) {
	level, err := xlog.ParseLevel(f.Level)
	if err != nil {
		return base, &xlog.SettingError{Field: KeyLevel, Value: f.Level, Err: err}
	}
	s := xlog.Settings{
		Level:             level,
		LogPath:           f.LogPath,
		Rotation:          f.Rotation,
		Retention:         f.Retention,
		Compression:       f.Compression,
		CompressionFormat: f.CompressionFormat,
		Subdirectory:      f.Subdirectory,
		Format:            f.LoggerFormat,
		Extra:             maps.Clone(f.Extra),
		Native:            base.Native,
		Cleaner:           base.Cleaner,
	}
	return s, s.Validate()
}

// toMap 文档形式，九个字段全部输出
func (f Fields) toMap() map[string]any {
	extra := f.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return map[string]any{
		KeyLevel:             f.Level,
		KeyLogPath:           f.LogPath,
		KeyRotation:          f.Rotation,
		KeyRetention:         f.Retention,
		KeyCompression:       f.Compression,
		KeyCompressionFormat: f.CompressionFormat,
		KeySubdirectory:      f.Subdirectory,
		KeyLoggerFormat:      f.LoggerFormat,
		KeyExtra:             extra,
	}
}
