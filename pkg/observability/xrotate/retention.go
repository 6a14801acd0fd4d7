package xrotate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Retention 归档保留策略
//
// MaxAge 与 MaxCount 为逻辑或：超过任意一个限制的归档都会被删除。
// 零值表示全部保留。
type Retention struct {
	// MaxAge 归档最长保留时间，按归档覆盖区间的结束时间计算，0 表示不限
	MaxAge time.Duration
	// MaxCount 最多保留的归档数量，0 表示不限
	MaxCount int
}

// ParseRetention 解析保留策略
//
// 支持的写法：
//   - 时长："30 days"、"24 hours"、"12 weeks"、"12 months"、"1 year"、"36h"
//   - 数量："10"、"10 files"
//   - 组合："7 days, 10 files"
//
// 空字符串返回零值（全部保留）。
func ParseRetention(s string) (Retention, error) {
	var r Retention
	spec := strings.ToLower(strings.TrimSpace(s))
	if spec == "" {
		return r, nil
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := r.parsePart(part); err != nil {
			return Retention{}, fmt.Errorf("%w: %q: %w", ErrInvalidRetention, s, err)
		}
	}
	return r, nil
}

func (r *Retention) parsePart(part string) error {
	if n, err := strconv.Atoi(part); err == nil {
		return r.setCount(n)
	}
	if m := amountUnitRe.FindStringSubmatch(part); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return err
		}
		if unit := m[2]; unit == "file" || unit == "files" || unit == "backup" || unit == "backups" {
			return r.setCount(n)
		}
		if unit, ok := ageUnit(m[2]); ok {
			return r.setAge(time.Duration(n) * unit)
		}
		return fmt.Errorf("unknown unit %q", m[2])
	}
	d, err := time.ParseDuration(part)
	if err != nil {
		return err
	}
	return r.setAge(d)
}

func (r *Retention) setCount(n int) error {
	if n <= 0 {
		return errors.New("count must be positive")
	}
	if r.MaxCount != 0 {
		return errors.New("count given twice")
	}
	r.MaxCount = n
	return nil
}

func (r *Retention) setAge(d time.Duration) error {
	if d <= 0 {
		return errors.New("age must be positive")
	}
	if r.MaxAge != 0 {
		return errors.New("age given twice")
	}
	r.MaxAge = d
	return nil
}

func ageUnit(unit string) (time.Duration, bool) {
	switch unit {
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return day, true
	case "w", "week", "weeks":
		return week, true
	case "mo", "month", "months":
		return month, true
	case "y", "year", "years":
		return year, true
	default:
		return 0, false
	}
}

// IsZero 判断是否为全部保留
func (r Retention) IsZero() bool {
	return r.MaxAge == 0 && r.MaxCount == 0
}

// String 返回可读形式
func (r Retention) String() string {
	var parts []string
	if r.MaxAge > 0 {
		parts = append(parts, r.MaxAge.String())
	}
	if r.MaxCount > 0 {
		parts = append(parts, strconv.Itoa(r.MaxCount)+" files")
	}
	if len(parts) == 0 {
		return "keep all"
	}
	return strings.Join(parts, ", ")
}

// Archive 磁盘上的一个归档文件
type Archive struct {
	Path string
	// ModTime 轮转器把它设置为归档覆盖区间的结束时间
	ModTime time.Time
	Size    int64
}

// ListArchives 列出 dir 下文件名满足 match 的归档，按覆盖结束时间从新到旧排序
//
// dir 不存在时返回空列表。
func ListArchives(dir string, match func(name string) bool) ([]Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Archive
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // 扫描期间被删除
		}
		out = append(out, Archive{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Expired 从按新到旧排序的归档中选出应删除的部分
func (r Retention) Expired(archives []Archive, now time.Time) []Archive {
	if r.IsZero() {
		return nil
	}
	var out []Archive
	for i, a := range archives {
		tooMany := r.MaxCount > 0 && i >= r.MaxCount
		tooOld := r.MaxAge > 0 && now.Sub(a.ModTime) > r.MaxAge
		if tooMany || tooOld {
			out = append(out, a)
		}
	}
	return out
}

// Sweep 按保留策略删除 dir 下的过期归档，返回被删除的路径
//
// 单个文件删除失败不会中断清理，所有错误合并返回。
func Sweep(dir string, match func(name string) bool, r Retention, now time.Time) ([]string, error) {
	if r.IsZero() {
		return nil, nil
	}
	archives, err := ListArchives(dir, match)
	if err != nil {
		return nil, err
	}
	var (
		removed []string
		errs    []error
	)
	for _, a := range r.Expired(archives, now) {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, a.Path)
	}
	return removed, errors.Join(errs...)
}
