package xrotate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultLiveTemplate 默认活动文件名模板
const DefaultLiveTemplate = "{name}.log"

// defaultArchiveExt 模板渲染结果没有扩展名时追加的扩展名
const defaultArchiveExt = ".log"

// DefaultArchiveTemplate 返回粒度对应的默认归档名模板（不含扩展名）
func DefaultArchiveTemplate(g Granularity) string {
	switch g {
	case GranularityMinute:
		return "[{name}]{date}_{hour}{minute}"
	case GranularityHour:
		return "[{name}]{date}_{hour}"
	case GranularityDay:
		return "[{name}]{date}"
	case GranularityWeek:
		return "[{name}]week{week_num}_{iso_year}"
	case GranularityMonth:
		return "[{name}]{year}{month}"
	default:
		return "[{name}]{timestamp}"
	}
}

// placeholderPatterns 占位符在归档名匹配正则中的形式
var placeholderPatterns = map[string]string{
	"date":      `\d{8}`,
	"time":      `\d{6}`,
	"timestamp": `\d{8}-\d{6}`,
	"year":      `\d{4}`,
	"iso_year":  `\d{4}`,
	"month":     `\d{2}`,
	"day":       `\d{2}`,
	"hour":      `\d{2}`,
	"minute":    `\d{2}`,
	"second":    `\d{2}`,
	"week_num":  `\d{2}`,
	"week":      `\d{2}`,
}

// splitExt 拆出模板的扩展名，没有扩展名时使用 ".log"
func splitExt(tmpl string) (stem, ext string) {
	ext = filepath.Ext(tmpl)
	if ext == "" || strings.ContainsAny(ext, "{}") {
		return tmpl, defaultArchiveExt
	}
	return strings.TrimSuffix(tmpl, ext), ext
}

// Namer 根据文件实际覆盖的时间区间生成归档文件名
//
// Namer 是不可变值，可安全并发使用。
type Namer struct {
	name    string
	policy  Policy
	codec   Codec
	stem    string // 去掉扩展名的模板
	ext     string // 归档扩展名（含点）
	matcher *regexp.Regexp
}

// NewNamer 创建归档命名器
//
// tmpl 为空时使用 [DefaultArchiveTemplate]。tmpl 不能包含路径分隔符。
// codec 为 nil 时不压缩。
func NewNamer(name string, policy Policy, tmpl string, codec Codec) (*Namer, error) {
	if tmpl == "" {
		tmpl = DefaultArchiveTemplate(policy.Granularity())
	}
	if strings.ContainsAny(tmpl, `/\`) {
		return nil, fmt.Errorf("%w: archive name %q must not contain path separators", ErrInvalidTemplate, tmpl)
	}
	if codec == nil {
		codec = noneCodec{}
	}

	// 压缩扩展名已写进模板时去掉，由压缩步骤统一追加
	if ce := codec.Ext(); ce != "" {
		tmpl = strings.TrimSuffix(tmpl, ce)
	}
	stem, ext := splitExt(tmpl)

	n := &Namer{name: name, policy: policy, codec: codec, stem: stem, ext: ext}
	n.matcher = regexp.MustCompile(n.pattern())
	return n, nil
}

// Name 返回 logger 名称
func (n *Namer) Name() string { return n.name }

// Codec 返回压缩算法
func (n *Namer) Codec() Codec { return n.codec }

// Policy 返回轮转策略
func (n *Namer) Policy() Policy { return n.policy }

// ReferenceTime 返回用于渲染归档名的时间
//
// 时间策略使用覆盖区间的起点（按天轮转体现被覆盖的那一天，按周体现 ISO 周），
// 大小策略与手动轮转使用触发时间。
func (n *Namer) ReferenceTime(start, end time.Time) time.Time {
	if n.policy.IsTime() && !start.IsZero() {
		return start
	}
	return end
}

// ArchiveName 返回覆盖 [start, end] 的归档文件名（不含目录，含压缩扩展名）
func (n *Namer) ArchiveName(start, end time.Time) string {
	return n.candidate(n.ReferenceTime(start, end), 0, true)
}

// candidate 生成第 seq 个候选名，seq > 0 时追加 "_seq" 解决冲突
func (n *Namer) candidate(ref time.Time, seq int, compressed bool) string {
	var b strings.Builder
	b.WriteString(Render(n.stem, n.name, ref))
	if seq > 0 {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(seq))
	}
	b.WriteString(n.ext)
	if compressed {
		b.WriteString(n.codec.Ext())
	}
	return b.String()
}

// Match 判断文件名是否为本 logger 的归档
func (n *Namer) Match(base string) bool {
	return n.matcher.MatchString(base)
}

// pattern 由模板生成归档名匹配正则
func (n *Namer) pattern() string {
	var b strings.Builder
	b.WriteByte('^')
	walk(n.stem, func(lit string) { b.WriteString(regexp.QuoteMeta(lit)) }, func(key, raw string) {
		switch {
		case key == "name":
			b.WriteString(regexp.QuoteMeta(n.name))
		case placeholderPatterns[key] != "":
			b.WriteString(placeholderPatterns[key])
		default:
			b.WriteString(regexp.QuoteMeta(raw))
		}
	})
	b.WriteString(`(?:_\d+)?`)
	b.WriteString(regexp.QuoteMeta(n.ext))
	b.WriteString(`(?:\.(?:gz|zst|lz4|br))?$`)
	return b.String()
}
