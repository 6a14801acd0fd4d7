package xlogconf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
)

// Preset 一组轮转相关设置
type Preset struct {
	Rotation          string
	Retention         string
	CompressionFormat string
}

var presets = map[string]Preset{
	"detailed": {Rotation: "20 MB", Retention: "30 days", CompressionFormat: "[{name}]{timestamp}"},
	"simple":   {Rotation: "20 MB", Retention: "30 days"},
	"daily":    {Rotation: "1 day", Retention: "30 days", CompressionFormat: "[{name}]{date}"},
	"hourly":   {Rotation: "1 hour", Retention: "7 days", CompressionFormat: "[{name}]{date}_{hour}"},
	"minute":   {Rotation: "1 minute", Retention: "24 hours", CompressionFormat: "[{name}]{date}_{hour}{minute}"},
	"weekly":   {Rotation: "1 week", Retention: "12 weeks", CompressionFormat: "[{name}]week{week_num}_{iso_year}"},
	"monthly":  {Rotation: "1 month", Retention: "12 months", CompressionFormat: "[{name}]{year}{month}"},
}

func lookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// LookupPreset 按名称（不区分大小写）查找预设
func LookupPreset(name string) (Preset, bool) {
	return lookupPreset(name)
}

// Presets 按字典序返回全部预设名称
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// =============================================================================
// 环境模板
// =============================================================================

// 环境模板名称
const (
	TemplateDevelopment     = "development"
	TemplateProduction      = "production"
	TemplateTesting         = "testing"
	TemplateHighPerformance = "high_performance"
)

var templates = map[string][]Option{
	TemplateDevelopment: {
		WithLevel(xlog.LevelDebug), WithLogPath("logs/dev"),
		WithRotation("10 MB"), WithRetention("7 days"), WithNative(true),
	},
	TemplateProduction: {
		WithLevel(xlog.LevelInfo), WithLogPath("/var/log/app"),
		WithRotation("100 MB"), WithRetention("30 days"), WithCompression("gz"), WithCleaner(true),
	},
	TemplateTesting: {
		WithLevel(xlog.LevelWarn), WithLogPath("logs/test"),
		WithRotation("5 MB"), WithRetention("3 days"),
	},
	TemplateHighPerformance: {
		WithLevel(xlog.LevelError), WithLogPath("logs/hp"),
		WithRotation("500 MB"), WithRetention("7 days"), WithCompression("gz"),
	},
}

// Templates 按字典序返回全部环境模板名称
func Templates() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FromTemplate 以环境模板为基础创建配置，opts 覆盖模板中的值
func FromTemplate(reg *xregistry.Registry, name string, opts ...Option) (*Config, error) {
	base, ok := templates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return New(reg, append(slices.Clone(base), opts...)...)
}

// Development 开发环境：DEBUG 级别，logs/dev，10 MB 原生轮转，保留 7 天
func Development(reg *xregistry.Registry, opts ...Option) (*Config, error) {
	return FromTemplate(reg, TemplateDevelopment, opts...)
}

// Production 生产环境：INFO 级别，/var/log/app，100 MB 轮转，gzip 压缩，保留 30 天并周期清理
func Production(reg *xregistry.Registry, opts ...Option) (*Config, error) {
	return FromTemplate(reg, TemplateProduction, opts...)
}

// Testing 测试环境：WARN 级别，logs/test，5 MB 轮转，保留 3 天
func Testing(reg *xregistry.Registry, opts ...Option) (*Config, error) {
	return FromTemplate(reg, TemplateTesting, opts...)
}

// HighPerformance 高吞吐场景：ERROR 级别，logs/hp，500 MB 轮转，gzip 压缩，保留 7 天
func HighPerformance(reg *xregistry.Registry, opts ...Option) (*Config, error) {
	return FromTemplate(reg, TemplateHighPerformance, opts...)
}
