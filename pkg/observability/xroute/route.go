package xroute

import "sync/atomic"

// Destination 输出目的地
type Destination uint8

const (
	// Console 控制台（标准输出/标准错误等流式输出）
	Console Destination = iota + 1
	// File 文件
	File
)

// String 返回目的地名称
func (d Destination) String() string {
	switch d {
	case Console:
		return "console"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Tags 记录的目的地标记位掩码
//
// 零值表示所有目的地可见。
type Tags uint8

const (
	// ConsoleOnly 仅控制台可见
	ConsoleOnly Tags = 1 << iota
	// FileOnly 仅文件可见
	FileOnly
)

// Only 返回只允许去往 d 的标记
func Only(d Destination) Tags {
	switch d {
	case Console:
		return ConsoleOnly
	case File:
		return FileOnly
	default:
		return 0
	}
}

// String 返回标记的可读形式
func (t Tags) String() string {
	switch {
	case t&ConsoleOnly != 0 && t&FileOnly != 0:
		return "none"
	case t&ConsoleOnly != 0:
		return "console-only"
	case t&FileOnly != 0:
		return "file-only"
	default:
		return "all"
	}
}

// Accepts 判断目的地 d 的 sink 是否接收带有 tags 的记录
//
// 纯位运算，O(1)，不分配内存。
func Accepts(d Destination, tags Tags) bool {
	switch d {
	case Console:
		return tags&FileOnly == 0
	case File:
		return tags&ConsoleOnly == 0
	default:
		return tags == 0
	}
}

// Predicate 返回绑定到目的地 d 的过滤函数
func Predicate(d Destination) func(Tags) bool {
	return func(tags Tags) bool { return Accepts(d, tags) }
}

// Table 记录已配置的目的地集合
//
// 零值表示没有任何目的地。所有方法并发安全。
type Table struct {
	mask atomic.Uint32
}

// NewTable 以给定目的地初始化 Table
func NewTable(dests ...Destination) *Table {
	t := &Table{}
	for _, d := range dests {
		t.Add(d)
	}
	return t
}

// Add 标记目的地 d 已配置
func (t *Table) Add(d Destination) {
	t.mask.Or(uint32(1) << d)
}

// Has 判断目的地 d 是否已配置
func (t *Table) Has(d Destination) bool {
	return t.mask.Load()&(uint32(1)<<d) != 0
}

// Resolve 根据已配置的目的地改写记录标记
//
// 当记录被限定到一个未配置的目的地、而另一个目的地存在时，
// 返回改写后的标记和 fellBack=true。其余情况原样返回。
func (t *Table) Resolve(tags Tags) (resolved Tags, fellBack bool) {
	switch tags {
	case FileOnly:
		if !t.Has(File) && t.Has(Console) {
			return ConsoleOnly, true
		}
	case ConsoleOnly:
		if !t.Has(Console) && t.Has(File) {
			return FileOnly, true
		}
	}
	return tags, false
}
