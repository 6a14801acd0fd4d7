package xlogconf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
	"github.com/omeyang/xlogkit/pkg/util/xfile"
)

// Format 文档格式
type Format string

// 支持的文档格式
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath 根据扩展名（.json、.yaml、.yml）判断格式
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

func parserFor(format Format) (koanf.Parser, error) {
	switch format {
	case FormatJSON:
		return json.Parser(), nil
	case FormatYAML:
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// mapProvider 把已解析的文档交给 koanf
type mapProvider map[string]any

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("%w: map provider does not support ReadBytes", ErrParseFailed)
}

func (p mapProvider) Read() (map[string]any, error) { return p, nil }

// parseDocument 把文档解析为顶层字段映射
func parseDocument(data []byte, format Format) (map[string]any, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}
	raw := k.Raw()
	if format == FormatJSON {
		wholeNumbers(raw)
	}
	return raw, nil
}

// wholeNumbers 把整数值的 float64 还原为 int
//
// JSON 不区分整数与浮点数，extra 中的整数经过 Save/Load 后应与 YAML 一样得到 int。
func wholeNumbers(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt && x < math.MaxInt {
			return int(x)
		}
	case map[string]any:
		for k, e := range x {
			x[k] = wholeNumbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = wholeNumbers(e)
		}
	}
	return v
}

// decodeFields 把 raw 中的已知字段覆盖到 f 上，返回未知字段名（已排序）
//
// raw 中出现 extra 时整体替换原有 extra。
func decodeFields(f *Fields, raw map[string]any) ([]string, error) {
	known := make(map[string]any, len(raw))
	var unknown []string
	for key, v := range raw {
		if isPersistedKey(key) {
			known[key] = v
		} else {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	if len(known) == 0 {
		return unknown, nil
	}
	if _, ok := known[KeyExtra]; ok {
		f.Extra = nil
	}

	k := koanf.New(".")
	if err := k.Load(mapProvider(known), nil); err != nil {
		return unknown, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := k.UnmarshalWithConf("", f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return unknown, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return unknown, nil
}

// Marshal 把九个持久化字段编码为文档
func (c *Config) Marshal(format Format) ([]byte, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	data, err := parser.Marshal(c.Fields().toMap())
	if err != nil {
		return nil, fmt.Errorf("xlogconf: marshal %s: %w", format, err)
	}
	return data, nil
}

// Save 把配置写入文件，格式由扩展名决定
//
// 先写入同目录的临时文件再重命名，读者不会看到写了一半的文档。
func (c *Config) Save(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	clean, err := xfile.SanitizePath(path)
	if err != nil {
		return fmt.Errorf("xlogconf: save: %w", err)
	}
	format, err := FormatFromPath(clean)
	if err != nil {
		return err
	}
	data, err := c.Marshal(format)
	if err != nil {
		return err
	}
	if err := xfile.EnsureDir(clean); err != nil {
		return fmt.Errorf("xlogconf: save: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(clean), "."+filepath.Base(clean)+".*.tmp")
	if err != nil {
		return fmt.Errorf("xlogconf: save: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, clean)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("xlogconf: save %s: %w", clean, werr)
	}
	return nil
}

// Load 从文件创建配置，格式由扩展名决定，opts 覆盖文档中的值
func Load(reg *xregistry.Registry, path string, opts ...Option) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlogconf: load %s: %w", path, err)
	}
	return FromBytes(reg, data, format, opts...)
}

// FromBytes 从文档内容创建配置
//
// 缺失的字段取默认值，未知字段记录 WARN 提示后忽略。
func FromBytes(reg *xregistry.Registry, data []byte, format Format, opts ...Option) (*Config, error) {
	raw, err := parseDocument(data, format)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	fields := fieldsOf(o.s)
	unknown, err := decodeFields(&fields, raw)
	if err != nil {
		return nil, err
	}
	if o.s, err = fields.Settings(o.s); err != nil {
		return nil, err
	}
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	warnUnknown(o, unknown)
	return newFromOptions(reg, o)
}

// UpdateFrom 以持久化字段名为 key 更新配置，效果同 [Config.Update]
//
// 只覆盖 m 中出现的字段；未知字段记录 WARN 提示后忽略。
func (c *Config) UpdateFrom(m map[string]any) error {
	c.mu.Lock()
	o := options{s: c.settings.Clone(), logger: c.logger}
	fields := fieldsOf(o.s)
	unknown, err := decodeFields(&fields, m)
	if err == nil {
		o.s, err = fields.Settings(o.s)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	warnUnknown(o, unknown)
	return c.commitLocked(o)
}

func warnUnknown(o options, unknown []string) {
	if len(unknown) > 0 {
		o.logger.LogAttrs(context.Background(), slog.LevelWarn, "xlogconf: unknown config fields ignored",
			slog.Any("fields", unknown), xlog.Count(int64(len(unknown))))
	}
}
