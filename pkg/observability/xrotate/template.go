package xrotate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// placeholder 渲染单个占位符
type placeholder func(name string, t time.Time) string

func layout(l string) placeholder {
	return func(_ string, t time.Time) string { return t.Format(l) }
}

func isoWeek(_ string, t time.Time) string {
	_, w := t.ISOWeek()
	return fmt.Sprintf("%02d", w)
}

// placeholders 支持的占位符。未登记的占位符原样保留。
var placeholders = map[string]placeholder{
	"name":      func(name string, _ time.Time) string { return name },
	"date":      layout("20060102"),
	"time":      layout("150405"),
	"timestamp": layout("20060102-150405"),
	"year":      layout("2006"),
	"month":     layout("01"),
	"day":       layout("02"),
	"hour":      layout("15"),
	"minute":    layout("04"),
	"second":    layout("05"),
	"week_num":  isoWeek,
	"week":      isoWeek,
	"iso_year": func(_ string, t time.Time) string {
		y, _ := t.ISOWeek()
		return strconv.Itoa(y)
	},
}

// Render 渲染文件名模板
//
// 已知占位符：{name} {date} {time} {timestamp} {year} {month} {day}
// {hour} {minute} {second} {week_num}（别名 {week}，ISO 周两位数）{iso_year}。
// 未知占位符和不成对的花括号按字面保留。时间字段使用 t 所在时区。
func Render(tmpl, name string, t time.Time) string {
	return render(tmpl, func(key string) (string, bool) {
		fn, ok := placeholders[key]
		if !ok {
			return "", false
		}
		return fn(name, t), true
	})
}

// RenderLive 渲染活动文件名模板
//
// 活动文件名必须固定，只允许 {name}；出现任何时间占位符返回 [ErrInvalidTemplate]。
func RenderLive(tmpl, name string) (string, error) {
	for _, key := range keysIn(tmpl) {
		if key != "name" {
			if _, known := placeholders[key]; known {
				return "", fmt.Errorf("%w: live file name %q must not contain {%s}", ErrInvalidTemplate, tmpl, key)
			}
		}
	}
	return render(tmpl, func(key string) (string, bool) {
		if key == "name" {
			return name, true
		}
		return "", false
	}), nil
}

// render 扫描 {key} 并调用 lookup 替换，lookup 返回 false 时原样保留
func render(tmpl string, lookup func(string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(tmpl) + 16)
	walk(tmpl, func(lit string) { b.WriteString(lit) }, func(key, raw string) {
		if v, ok := lookup(key); ok {
			b.WriteString(v)
		} else {
			b.WriteString(raw)
		}
	})
	return b.String()
}

// walk 把模板切分为字面片段与占位符，按出现顺序回调
//
// raw 是占位符的原始文本（含花括号）。不成对的花括号视为字面内容。
func walk(tmpl string, lit func(string), ph func(key, raw string)) {
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(tmpl[open+1:], '}')
		if end < 0 {
			break
		}
		end += open + 1
		if open > 0 {
			lit(tmpl[:open])
		}
		ph(tmpl[open+1:end], tmpl[open:end+1])
		tmpl = tmpl[end+1:]
	}
	if tmpl != "" {
		lit(tmpl)
	}
}

// keysIn 返回模板中出现的全部占位符名
func keysIn(tmpl string) []string {
	var keys []string
	walk(tmpl, func(string) {}, func(key, _ string) { keys = append(keys, key) })
	return keys
}
