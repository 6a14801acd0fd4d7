package xproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
	"github.com/omeyang/xlogkit/pkg/observability/xroute"
)

// 编译时接口检查
var (
	_ xlog.Emitter = (*Proxy)(nil)
	_ xlog.Logger  = (*Proxy)(nil)
)

// Resolver 一个部署内共享的解析器，持有未注册策略与提示记忆
//
// 设计决策: 提示记忆是有界 LRU，值为注册表订阅 ID。名称重新注册时订阅回调
// 移除记忆项，淘汰回调随之取消订阅，注册表中不会残留订阅。
type Resolver struct {
	reg    *xregistry.Registry
	opts   options
	warned *lru.Cache[string, uint64]
}

// NewResolver 创建解析器
func NewResolver(reg *xregistry.Registry, opts ...Option) (*Resolver, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.warnCapacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, o.warnCapacity)
	}
	r := &Resolver{reg: reg, opts: o}
	warned, err := lru.NewWithEvict(o.warnCapacity, func(name string, sub uint64) {
		reg.Unsubscribe(name, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("xproxy: create warn memory: %w", err)
	}
	r.warned = warned
	return r, nil
}

// Policy 返回未注册策略
func (r *Resolver) Policy() Policy { return r.opts.policy }

// Registry 返回解析使用的注册表
func (r *Resolver) Registry() *xregistry.Registry { return r.reg }

// Proxy 返回名称的代理，名称此时可以尚未注册
func (r *Resolver) Proxy(name string) *Proxy {
	return &Proxy{r: r, name: name}
}

// unresolved 按策略处理一次未注册的调用
func (r *Resolver) unresolved(ctx context.Context, name string) error {
	r.opts.recorder.Unresolved(ctx, name)
	if r.opts.policy == PolicyError {
		return fmt.Errorf("%w: %q", ErrUnresolved, name)
	}
	if r.warned.Contains(name) {
		return nil
	}
	sub := r.reg.Subscribe(name, func(n xregistry.Notification) {
		if n.Event == xregistry.EventRegistered {
			r.warned.Remove(name)
		}
	})
	if _, seen, _ := r.warned.PeekOrAdd(name, sub); seen {
		// 并发调用方已经提示过
		r.reg.Unsubscribe(name, sub)
		return nil
	}
	r.opts.logger.LogAttrs(ctx, slog.LevelWarn, "xproxy: logger not configured, records dropped",
		slog.String("name", name))
	return nil
}

// Proxy 按名称转发的 logger
//
// 每次调用都向注册表解析当前 Handle，不跨调用缓存，替换或重新配置后
// 调用方无需重新获取代理。零值不可用。
type Proxy struct {
	r    *Resolver
	name string
}

// New 以独立的解析器创建代理
//
// 多个代理应共享同一个 [Resolver]，提示记忆与策略才能在部署内保持一致。
func New(reg *xregistry.Registry, name string, opts ...Option) (*Proxy, error) {
	r, err := NewResolver(reg, opts...)
	if err != nil {
		return nil, err
	}
	return r.Proxy(name), nil
}

// Name 返回代理绑定的名称
func (p *Proxy) Name() string { return p.name }

// Resolve 返回名称当前的 Handle，未注册时返回 nil
func (p *Proxy) Resolve() *xlog.Handle {
	return p.r.reg.Get(p.name)
}

// Emit 解析当前 Handle 并转发
//
// Handle 在解析与写出之间被替换而关闭时，重新解析并转发给新的 Handle。
func (p *Proxy) Emit(ctx context.Context, level xlog.Level, tags xroute.Tags, msg string, attrs ...slog.Attr) error {
	h := p.Resolve()
	for h != nil {
		err := h.Emit(ctx, level, tags, msg, attrs...)
		if !errors.Is(err, xlog.ErrClosed) {
			return err
		}
		next := p.Resolve()
		if next == h {
			return err
		}
		h = next
	}
	return p.r.unresolved(ctx, p.name)
}

// Log 以任意级别记录日志
func (p *Proxy) Log(ctx context.Context, level xlog.Level, msg string, attrs ...slog.Attr) error {
	return p.Emit(ctx, level, 0, msg, attrs...)
}

// Trace 记录 TRACE 级别日志
func (p *Proxy) Trace(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelTrace, msg, attrs...)
}

// Debug 记录 DEBUG 级别日志
func (p *Proxy) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelDebug, msg, attrs...)
}

// Info 记录 INFO 级别日志
func (p *Proxy) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelInfo, msg, attrs...)
}

// Success 记录 SUCCESS 级别日志
func (p *Proxy) Success(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelSuccess, msg, attrs...)
}

// Warn 记录 WARN 级别日志
func (p *Proxy) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelWarn, msg, attrs...)
}

// Error 记录 ERROR 级别日志
func (p *Proxy) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelError, msg, attrs...)
}

// Critical 记录 CRITICAL 级别日志
func (p *Proxy) Critical(ctx context.Context, msg string, attrs ...slog.Attr) {
	_ = p.Log(ctx, xlog.LevelCritical, msg, attrs...)
}

// Console 只输出到控制台的派生 Logger，仍然每次调用都解析
func (p *Proxy) Console() xlog.Logger { return xlog.NewView(p).Console() }

// File 只输出到文件的派生 Logger
func (p *Proxy) File() xlog.Logger { return xlog.NewView(p).File() }

// Dev 等同于 Console
func (p *Proxy) Dev() xlog.Logger { return p.Console() }

// With 带固定属性的派生 Logger
func (p *Proxy) With(attrs ...slog.Attr) xlog.Logger { return xlog.NewView(p).With(attrs...) }
