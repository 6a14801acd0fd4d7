package xrotate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// Granularity 时间轮转的粒度，决定归档名体现的时间字段
type Granularity int

const (
	// GranularityNone 非时间轮转（按大小或不轮转）
	GranularityNone Granularity = iota
	// GranularityMinute 分钟
	GranularityMinute
	// GranularityHour 小时
	GranularityHour
	// GranularityDay 天
	GranularityDay
	// GranularityWeek ISO 周
	GranularityWeek
	// GranularityMonth 月
	GranularityMonth
)

// String 返回粒度名称
func (g Granularity) String() string {
	switch g {
	case GranularityMinute:
		return "minute"
	case GranularityHour:
		return "hour"
	case GranularityDay:
		return "day"
	case GranularityWeek:
		return "week"
	case GranularityMonth:
		return "month"
	default:
		return "none"
	}
}

// Trigger 触发轮转的原因
type Trigger string

const (
	// TriggerSize 文件大小超限
	TriggerSize Trigger = "size"
	// TriggerTime 跨越时间边界
	TriggerTime Trigger = "time"
	// TriggerManual 手动调用 Rotate
	TriggerManual Trigger = "manual"
)

// Policy 轮转策略
//
// 零值表示永不自动轮转。Policy 是不可变值，可安全并发使用。
type Policy struct {
	spec        string
	maxBytes    int64
	granularity Granularity
	schedule    cron.Schedule
}

var (
	amountUnitRe = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)
	clockRe      = regexp.MustCompile(`^(?:at\s+)?(\d{1,2}):(\d{2})$`)
)

// ParsePolicy 解析轮转策略
//
// 支持的写法：
//   - 大小："20 MB"、"500KB"、"1GiB"、"1048576"（go-humanize 语法）
//   - 间隔："1 minute"、"2 hours"、"1 day"、"1 week"、"1 month"
//   - 关键字："minutely"、"hourly"、"daily"、"weekly"、"monthly"
//   - 每天定点："00:00"、"at 12:30"
//   - cron 表达式："cron:0 */6 * * *"
//
// 空字符串返回零值（不轮转）。时间边界由 cron 调度计算，周以周一 00:00 为界。
func ParsePolicy(s string) (Policy, error) {
	spec := strings.ToLower(strings.TrimSpace(s))
	if spec == "" {
		return Policy{}, nil
	}

	if expr, ok := strings.CutPrefix(spec, "cron:"); ok {
		return cronPolicy(s, strings.TrimSpace(expr))
	}

	switch spec {
	case "minutely":
		return timePolicy(s, 1, GranularityMinute)
	case "hourly":
		return timePolicy(s, 1, GranularityHour)
	case "daily":
		return timePolicy(s, 1, GranularityDay)
	case "weekly":
		return timePolicy(s, 1, GranularityWeek)
	case "monthly":
		return timePolicy(s, 1, GranularityMonth)
	}

	if m := clockRe.FindStringSubmatch(spec); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return Policy{}, fmt.Errorf("%w: %q: time of day out of range", ErrInvalidRotation, s)
		}
		sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
		if err != nil {
			return Policy{}, fmt.Errorf("%w: %q: %w", ErrInvalidRotation, s, err)
		}
		return Policy{spec: s, granularity: GranularityDay, schedule: sched}, nil
	}

	if m := amountUnitRe.FindStringSubmatch(spec); m != nil {
		if g, ok := parseTimeUnit(m[2]); ok {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return Policy{}, fmt.Errorf("%w: %q: %w", ErrInvalidRotation, s, err)
			}
			return timePolicy(s, n, g)
		}
	}

	size, err := humanize.ParseBytes(spec)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q: %w", ErrInvalidRotation, s, err)
	}
	if size == 0 || size > 1<<62 {
		return Policy{}, fmt.Errorf("%w: %q: size must be positive", ErrInvalidRotation, s)
	}
	return Policy{spec: s, maxBytes: int64(size)}, nil
}

// MustParsePolicy 与 ParsePolicy 相同，解析失败时 panic。仅用于常量策略。
func MustParsePolicy(s string) Policy {
	p, err := ParsePolicy(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseTimeUnit(unit string) (Granularity, bool) {
	switch unit {
	case "m", "min", "mins", "minute", "minutes":
		return GranularityMinute, true
	case "h", "hr", "hrs", "hour", "hours":
		return GranularityHour, true
	case "d", "day", "days":
		return GranularityDay, true
	case "w", "week", "weeks":
		return GranularityWeek, true
	case "mo", "month", "months":
		return GranularityMonth, true
	default:
		return GranularityNone, false
	}
}

// timePolicy 把 "n 个单位" 转为 cron 调度
func timePolicy(spec string, n int, g Granularity) (Policy, error) {
	var expr string
	switch {
	case n < 1:
		return Policy{}, fmt.Errorf("%w: %q: interval must be positive", ErrInvalidRotation, spec)
	case g == GranularityMinute && n < 60:
		expr = everyField(n) + " * * * *"
	case g == GranularityHour && n < 24:
		expr = "0 " + everyField(n) + " * * *"
	case g == GranularityDay && n < 32:
		expr = "0 0 " + everyField(n) + " * *"
	case g == GranularityWeek && n == 1:
		expr = "0 0 * * 1"
	case g == GranularityMonth && n < 13:
		expr = "0 0 1 " + everyField(n) + " *"
	default:
		return Policy{}, fmt.Errorf("%w: %q: unsupported interval", ErrInvalidRotation, spec)
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q: %w", ErrInvalidRotation, spec, err)
	}
	return Policy{spec: spec, granularity: g, schedule: sched}, nil
}

func everyField(n int) string {
	if n == 1 {
		return "*"
	}
	return "*/" + strconv.Itoa(n)
}

// cronPolicy 解析标准五段 cron 表达式，粒度取变化最快的字段
func cronPolicy(spec, expr string) (Policy, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q: %w", ErrInvalidRotation, spec, err)
	}
	fields := strings.Fields(expr)
	g := GranularityDay
	if len(fields) == 5 {
		fixed := func(f string) bool { return !strings.ContainsAny(f, "*/,-") }
		switch {
		case !fixed(fields[0]):
			g = GranularityMinute
		case !fixed(fields[1]):
			g = GranularityHour
		case fields[4] != "*":
			g = GranularityWeek
		case fixed(fields[2]):
			g = GranularityMonth
		}
	}
	return Policy{spec: spec, granularity: g, schedule: sched}, nil
}

// IsZero 判断是否为不轮转的零值策略
func (p Policy) IsZero() bool {
	return p.maxBytes == 0 && p.schedule == nil
}

// IsSize 判断是否按大小轮转
func (p Policy) IsSize() bool {
	return p.maxBytes > 0
}

// IsTime 判断是否按时间轮转
func (p Policy) IsTime() bool {
	return p.schedule != nil
}

// MaxBytes 返回大小阈值（字节），非大小策略返回 0
func (p Policy) MaxBytes() int64 {
	return p.maxBytes
}

// Granularity 返回时间粒度
func (p Policy) Granularity() Granularity {
	return p.granularity
}

// String 返回原始策略文本
func (p Policy) String() string {
	return p.spec
}

// Next 返回严格晚于 t 的下一个时间边界，非时间策略返回零值
//
// 计算在 t 所在的时区进行。
func (p Policy) Next(t time.Time) time.Time {
	if p.schedule == nil {
		return time.Time{}
	}
	return p.schedule.Next(t)
}

// Exceeds 判断当前大小追加 incoming 字节后是否超过大小阈值
//
// 空文件永不触发，保证单条超大记录也能写入。
func (p Policy) Exceeds(size, incoming int64) bool {
	return p.maxBytes > 0 && size > 0 && size+incoming > p.maxBytes
}
