package xlog

import (
	"fmt"
	"maps"
	"path/filepath"
	"strings"

	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
	"github.com/omeyang/xlogkit/pkg/util/xfile"
)

// 输出格式
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Settings 一个 Handle 的完整设置
//
// LogPath 为空时只输出到控制台。Native 与 Cleaner 只在运行时生效，不参与持久化。
type Settings struct {
	Level             Level
	LogPath           string
	Rotation          string
	Retention         string
	Compression       string
	CompressionFormat string
	Subdirectory      string
	Format            string
	Extra             map[string]any

	// Native 使用 lumberjack 原生按大小轮转及其备份命名
	Native bool
	// Cleaner 为日志目录启动周期保留清理
	Cleaner bool
}

// DefaultSettings 返回默认设置：INFO 级别、text 格式、仅控制台
func DefaultSettings() Settings {
	return Settings{Level: LevelInfo, Format: FormatText}
}

// Clone 返回深拷贝，Extra 不与原值共享
func (s Settings) Clone() Settings {
	s.Extra = maps.Clone(s.Extra)
	return s
}

// Validate 校验全部字段，返回第一个 [*SettingError]
func (s Settings) Validate() error {
	_, err := s.resolve()
	return err
}

// LogFile 返回 name 对应的活动文件路径，LogPath 为空时返回空字符串
func (s Settings) LogFile(name string) (string, error) {
	if s.LogPath == "" {
		return "", nil
	}
	dir, err := s.logDir()
	if err != nil {
		return "", err
	}
	base, err := fileBase(name)
	if err != nil {
		return "", err
	}
	live, err := xrotate.RenderLive(xrotate.DefaultLiveTemplate, base)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, live), nil
}

// Namer 返回 name 的归档命名器
func (s Settings) Namer(name string) (*xrotate.Namer, error) {
	r, err := s.resolve()
	if err != nil {
		return nil, err
	}
	base, err := fileBase(name)
	if err != nil {
		return nil, err
	}
	return xrotate.NewNamer(base, r.policy, s.CompressionFormat, r.codec)
}

// resolved 解析后的文件相关设置
type resolved struct {
	policy    xrotate.Policy
	retention xrotate.Retention
	codec     xrotate.Codec
	format    string
}

func (s Settings) resolve() (resolved, error) {
	var (
		r   resolved
		err error
	)
	if r.format, err = normalizeFormat(s.Format); err != nil {
		return r, settingError("logger_format", s.Format, err)
	}
	if r.policy, err = xrotate.ParsePolicy(s.Rotation); err != nil {
		return r, settingError("rotation", s.Rotation, err)
	}
	if r.retention, err = xrotate.ParseRetention(s.Retention); err != nil {
		return r, settingError("retention", s.Retention, err)
	}
	if r.codec, err = xrotate.LookupCodec(s.Compression); err != nil {
		return r, settingError("compression", s.Compression, err)
	}
	if strings.ContainsAny(s.CompressionFormat, `/\`) {
		return r, settingError("compression_format", s.CompressionFormat,
			fmt.Errorf("%w: must not contain path separators", xrotate.ErrInvalidTemplate))
	}
	if s.LogPath != "" {
		// 校验目录本身，允许 "logs/" 与 "." 这类写法
		if _, err := xfile.SanitizePath(filepath.Join(s.LogPath, xrotate.DefaultLiveTemplate)); err != nil {
			return r, settingError("log_path", s.LogPath, err)
		}
	}
	if _, err := xfile.JoinUnder(s.LogPath, s.Subdirectory); err != nil {
		return r, settingError("subdirectory", s.Subdirectory, err)
	}
	if s.Native && s.LogPath != "" {
		if _, err := xrotate.NativeOptions(r.policy, r.retention, r.codec); err != nil {
			return r, settingError("native", s.Rotation, err)
		}
	}
	return r, nil
}

// sameFile 判断两组设置的文件输出部分是否相同，相同时可以沿用已打开的轮转器
func (s Settings) sameFile(o Settings) bool {
	return s.LogPath == o.LogPath &&
		s.Subdirectory == o.Subdirectory &&
		s.Rotation == o.Rotation &&
		s.Retention == o.Retention &&
		s.Compression == o.Compression &&
		s.CompressionFormat == o.CompressionFormat &&
		s.Native == o.Native
}

func (s Settings) logDir() (string, error) {
	return xfile.JoinUnder(s.LogPath, s.Subdirectory)
}

// fileBase logger 名称转为文件名安全的形式
func fileBase(name string) (string, error) {
	base, err := xfile.SanitizeFileName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEmptyName, err)
	}
	return base, nil
}

// normalizeFormat 空值视为 text
func normalizeFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
