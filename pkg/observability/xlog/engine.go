package xlog

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xlogkit/pkg/observability/xroute"
)

// SinkID 引擎内 sink 的标识
type SinkID uint64

// Record 一条待分发的日志记录
//
// Tags 只用于路由，不出现在输出内容中。
type Record struct {
	Time    time.Time
	Level   Level
	Message string
	Attrs   []slog.Attr
	Tags    xroute.Tags
}

// Sink 一个输出目标
type Sink struct {
	// Destination 目的地，用于按 Tags 过滤
	Destination xroute.Destination
	// Filter 额外过滤条件，nil 表示全部接收
	Filter func(Record) bool
	// Handler 负责格式化与写出
	Handler slog.Handler
	// Level 最低级别，nil 表示不限
	Level slog.Leveler
}

// accepts 判断 sink 是否接收记录，先做 O(1) 的标记判断
func (s *Sink) accepts(rec *Record) bool {
	if !xroute.Accepts(s.Destination, rec.Tags) {
		return false
	}
	if s.Level != nil && slog.Level(rec.Level) < s.Level.Level() {
		return false
	}
	return s.Filter == nil || s.Filter(*rec)
}

// Engine 行日志引擎
//
// 负责 sink 注册、级别过滤与分发，不关心设置从何而来。
// 实现必须并发安全。
type Engine interface {
	AddSink(s Sink) SinkID
	RemoveSink(id SinkID) bool
	Emit(ctx context.Context, rec Record) error
}

// 编译时接口检查
var _ Engine = (*SinkEngine)(nil)

type sinkEntry struct {
	id   SinkID
	sink Sink
}

// SinkEngine 基于 slog.Handler 的 Engine 实现
//
// 设计决策: sink 列表写时复制，Emit 只做一次原子读取，热路径无锁。
type SinkEngine struct {
	mu    sync.Mutex // 串行化 AddSink/RemoveSink
	next  SinkID
	sinks atomic.Pointer[[]sinkEntry]
}

// NewSinkEngine 创建空引擎
func NewSinkEngine() *SinkEngine {
	e := &SinkEngine{}
	e.sinks.Store(&[]sinkEntry{})
	return e
}

// AddSink 注册 sink，返回其标识
func (e *SinkEngine) AddSink(s Sink) SinkID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	cur := *e.sinks.Load()
	next := make([]sinkEntry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, sinkEntry{id: e.next, sink: s})
	e.sinks.Store(&next)
	return e.next
}

// RemoveSink 移除 sink，不存在时返回 false
func (e *SinkEngine) RemoveSink(id SinkID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := *e.sinks.Load()
	i := slices.IndexFunc(cur, func(s sinkEntry) bool { return s.id == id })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	e.sinks.Store(&next)
	return true
}

// Len 返回已注册的 sink 数量
func (e *SinkEngine) Len() int {
	return len(*e.sinks.Load())
}

// Emit 把记录分发给所有接收它的 sink，各 sink 的错误合并返回
func (e *SinkEngine) Emit(ctx context.Context, rec Record) error {
	sinks := *e.sinks.Load()
	if len(sinks) == 0 {
		return nil
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	r := slog.NewRecord(rec.Time, slog.Level(rec.Level), rec.Message, 0)
	r.AddAttrs(rec.Attrs...)

	var errs []error
	for i := range sinks {
		s := &sinks[i].sink
		if !s.accepts(&rec) || !s.Handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
