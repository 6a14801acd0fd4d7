package xregistry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/util/xpool"
)

// Event 注册表事件类型
type Event string

// 注册表事件
const (
	EventRegistered   Event = "registered"
	EventUpdated      Event = "updated"
	EventUnregistered Event = "unregistered"
)

// AllNames 订阅全部名称的通配符
const AllNames = "*"

// Entry 一个名称当前对应的 Handle 及其元数据
type Entry struct {
	Name   string
	Handle *xlog.Handle
	// Owner 条目的所有者，通常是把设置应用到该名称的配置对象
	Owner any
	// Generation 该名称每注册一个新的 Handle 加一，注销后再注册继续递增
	Generation uint64
	// Revision 当前 Handle 每次原地更新加一
	Revision uint64
}

// Notification 一次变更通知
type Notification struct {
	Event  Event
	Name   string
	Handle *xlog.Handle
	// Previous 被替换的 Handle，仅在替换产生的 updated 事件中非 nil
	Previous   *xlog.Handle
	Generation uint64
	Revision   uint64
}

// Subscriber 变更回调
//
// 回调在注册表锁之外执行，可以再次调用注册表。
type Subscriber func(Notification)

type subscription struct {
	id uint64
	fn Subscriber
}

// pending 排队中的通知，release 在通知送达后关闭
type pending struct {
	n       Notification
	release *xlog.Handle
}

// Registry 名称到 Handle 的注册表
//
// 同一名称的变更由名称锁串行化，Handle 的创建与 Apply 在名称锁内、注册表锁外执行，
// 慢速的文件准备不会阻塞 Get 或其他名称的变更。条目的修改与通知入队在注册表锁内一起完成，
// 通知在所有锁外逐条送达；同一时刻只有一个 goroutine 在投递，
// 因此订阅者看到的顺序与变更顺序一致。
//
// 设计决策: 不提供包级全局实例，注册表由调用方显式创建并传递。
type Registry struct {
	opts  options
	pool  *xpool.Pool[func()]
	names nameLocks // 先于 mu 获取

	mu          sync.RWMutex
	entries     map[string]*Entry
	generations map[string]uint64
	subs        map[string][]subscription
	nextSub     uint64
	closed      bool

	qmu      sync.Mutex // 保护通知队列，可在持有 mu 时获取，反之不行
	queue    []pending
	draining bool
	holds    int
}

// New 创建注册表，同时启动轮转后台任务池
func New(opts ...Option) (*Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	pool, err := xpool.New(o.workers, o.queueSize, xpool.RunFunc,
		xpool.WithLogger(o.logger),
		xpool.WithName("xregistry-rotation"),
	)
	if err != nil {
		return nil, fmt.Errorf("xregistry: create rotation pool: %w", err)
	}
	return &Registry{
		opts:        o,
		pool:        pool,
		entries:     make(map[string]*Entry),
		generations: make(map[string]uint64),
		subs:        make(map[string][]subscription),
	}, nil
}

// NewHandle 用注册表级的 Handle 选项创建 Handle，不注册
//
// 文件轮转的后台任务交给注册表的任务池，指标写入注册表的记录器。
func (r *Registry) NewHandle(name string, s xlog.Settings) (*xlog.Handle, error) {
	opts := make([]xlog.HandleOption, 0, len(r.opts.handleOpts)+2)
	opts = append(opts, xlog.WithDispatcher(r.pool), xlog.WithRecorder(r.opts.recorder))
	opts = append(opts, r.opts.handleOpts...)
	return xlog.NewHandle(name, s, opts...)
}

// Register 注册或替换名称对应的 Handle
//
// 新名称产生 registered 事件；替换已有 Handle 时依次产生 registered 与 updated，
// 旧 Handle 在通知送达后关闭。注册同一个 Handle 视为一次原地更新。
// 未指定 [WithOwner] 时沿用原条目的所有者。
func (r *Registry) Register(name string, h *xlog.Handle, opts ...RegisterOption) (Entry, error) {
	if name == "" {
		return Entry{}, ErrEmptyName
	}
	if h == nil {
		return Entry{}, ErrNilHandle
	}
	e, err := r.register(name, h, newRegisterOptions(opts))
	r.drain()
	return e, err
}

// Upsert 名称已注册时原地更新其设置，否则用 [Registry.NewHandle] 创建并注册
//
// 返回更新后的条目与更新前的所有者（新建时为 nil）。
func (r *Registry) Upsert(name string, s xlog.Settings, opts ...RegisterOption) (Entry, any, error) {
	if name == "" {
		return Entry{}, nil, ErrEmptyName
	}
	e, prevOwner, err := r.upsert(name, s, newRegisterOptions(opts))
	r.drain()
	return e, prevOwner, err
}

// UpdateSettings 原地更新已注册 Handle 的设置，Handle 身份不变
//
// 名称不存在时返回 [ErrNotFound]，设置非法时返回 xlog.ErrInvalidSetting 且不产生事件。
func (r *Registry) UpdateSettings(name string, s xlog.Settings, opts ...RegisterOption) error {
	err := r.updateSettings(name, s, newRegisterOptions(opts))
	r.drain()
	return err
}

// Unregister 注销名称，Handle 在 unregistered 通知送达后关闭
func (r *Registry) Unregister(name string) error {
	err := r.unregister(name)
	r.drain()
	return err
}

// Get 返回名称当前的 Handle，未注册时返回 nil
func (r *Registry) Get(name string) *xlog.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.Handle
	}
	return nil
}

// Lookup 返回名称对应条目的副本
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Names 按字典序返回全部已注册名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len 返回已注册名称数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Subscribe 订阅名称的变更，name 为 [AllNames] 时订阅全部名称
//
// 返回订阅 ID，用于 [Registry.Unsubscribe]。fn 为 nil 时返回 0。
// 同一通知的订阅者按订阅顺序调用。
func (r *Registry) Subscribe(name string, fn Subscriber) uint64 {
	if fn == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	r.subs[name] = append(r.subs[name], subscription{id: r.nextSub, fn: fn})
	return r.nextSub
}

// Unsubscribe 取消订阅，不存在时返回 false
func (r *Registry) Unsubscribe(name string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subs[name]
	i := slices.IndexFunc(subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	subs = slices.Delete(slices.Clone(subs), i, i+1)
	if len(subs) == 0 {
		delete(r.subs, name)
	} else {
		r.subs[name] = subs
	}
	return true
}

// Batch 暂停通知投递，直到 [Batch.Commit]
//
// 期间的变更照常生效，通知按顺序排队。用于在调用方自己的锁内完成一组变更，
// 解锁后再让订阅者看到它们。
func (r *Registry) Batch() *Batch {
	r.qmu.Lock()
	r.holds++
	r.qmu.Unlock()
	return &Batch{r: r}
}

// Batch 一组延迟投递的变更
type Batch struct {
	r    *Registry
	done atomic.Bool
}

// Commit 恢复投递并送达排队的通知，重复调用无操作
func (b *Batch) Commit() {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	b.r.qmu.Lock()
	b.r.holds--
	b.r.qmu.Unlock()
	b.r.drain()
}

// Shutdown 按名称字典序逐个刷盘并注销全部条目，然后停止后台任务池
//
// 调用前应提交所有 Batch。之后的变更返回 [ErrClosed]。
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		// 等待该名称上进行中的变更完成
		unlock := r.names.lock(name)
		r.mu.Lock()
		cur, ok := r.entries[name]
		delete(r.entries, name)
		r.mu.Unlock()
		unlock()
		if !ok {
			continue
		}

		if err := cur.Handle.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("xregistry: sync %q: %w", name, err))
		}
		r.mu.Lock()
		r.enqueue(pending{n: notification(EventUnregistered, cur, nil)})
		r.mu.Unlock()
		r.drain()
		if err := cur.Handle.Close(); err != nil && !errors.Is(err, xlog.ErrClosed) {
			errs = append(errs, fmt.Errorf("xregistry: close %q: %w", name, err))
		}
	}
	if err := r.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("xregistry: stop rotation pool: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 内部实现
// =============================================================================

// 以下变更函数在名称锁内执行，返回后由调用方在所有锁外 drain。

func (r *Registry) register(name string, h *xlog.Handle, o registerOptions) (Entry, error) {
	defer r.names.lock(name)()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Entry{}, ErrClosed
	}
	return r.registerLocked(name, h, o), nil
}

func (r *Registry) upsert(name string, s xlog.Settings, o registerOptions) (Entry, any, error) {
	defer r.names.lock(name)()
	r.mu.RLock()
	cur, ok := r.entries[name]
	closed := r.closed
	var prevOwner any
	if ok {
		prevOwner = cur.Owner
	}
	r.mu.RUnlock()
	if closed {
		return Entry{}, nil, ErrClosed
	}
	if ok {
		e, err := r.update(cur, s, o)
		return e, prevOwner, err
	}

	h, err := r.NewHandle(name, s)
	if err != nil {
		return Entry{}, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = h.Close()
		return Entry{}, nil, ErrClosed
	}
	return r.registerLocked(name, h, o), nil, nil
}

func (r *Registry) updateSettings(name string, s xlog.Settings, o registerOptions) error {
	defer r.names.lock(name)()
	r.mu.RLock()
	cur, ok := r.entries[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	_, err := r.update(cur, s, o)
	return err
}

func (r *Registry) unregister(name string) error {
	defer r.names.lock(name)()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	cur, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.entries, name)
	r.enqueue(pending{n: notification(EventUnregistered, cur, nil), release: cur.Handle})
	return nil
}

func (r *Registry) registerLocked(name string, h *xlog.Handle, o registerOptions) Entry {
	prev, exists := r.entries[name]
	if exists && prev.Handle == h {
		prev.Revision++
		if o.setOwner {
			prev.Owner = o.owner
		}
		r.enqueue(pending{n: notification(EventUpdated, prev, nil)})
		return *prev
	}

	owner := o.owner
	if exists && !o.setOwner {
		owner = prev.Owner
	}
	r.generations[name]++
	e := &Entry{Name: name, Handle: h, Owner: owner, Generation: r.generations[name]}
	r.entries[name] = e
	r.enqueue(pending{n: notification(EventRegistered, e, nil)})
	if exists {
		r.enqueue(pending{n: notification(EventUpdated, e, prev.Handle), release: prev.Handle})
	}
	return *e
}

// update 调用方持有名称锁，条目在此期间不会被替换或注销
//
// Apply 不持有注册表锁；Owner 只在名称锁内修改，这里可以直接读取。
func (r *Registry) update(cur *Entry, s xlog.Settings, o registerOptions) (Entry, error) {
	if o.checkIf && cur.Owner != o.ifOwner {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotOwner, cur.Name)
	}
	if err := cur.Handle.Apply(s); err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur.Revision++
	if o.setOwner {
		cur.Owner = o.owner
	}
	r.enqueue(pending{n: notification(EventUpdated, cur, nil)})
	return *cur, nil
}

func notification(ev Event, e *Entry, previous *xlog.Handle) Notification {
	return Notification{
		Event:      ev,
		Name:       e.Name,
		Handle:     e.Handle,
		Previous:   previous,
		Generation: e.Generation,
		Revision:   e.Revision,
	}
}

// enqueue 调用方持有 mu 写锁，保证入队顺序与变更顺序一致
func (r *Registry) enqueue(p pending) {
	r.qmu.Lock()
	r.queue = append(r.queue, p)
	r.qmu.Unlock()
}

// drain 逐条投递排队的通知
//
// 同一时刻只有一个 goroutine 投递；订阅者回调内产生的新通知排在队尾，
// 由正在投递的 goroutine 在回调返回后送达。
func (r *Registry) drain() {
	for {
		r.qmu.Lock()
		if r.draining || r.holds > 0 || len(r.queue) == 0 {
			r.qmu.Unlock()
			return
		}
		p := r.queue[0]
		r.queue[0] = pending{}
		r.queue = r.queue[1:]
		r.draining = true
		r.qmu.Unlock()

		r.deliver(p)

		r.qmu.Lock()
		r.draining = false
		r.qmu.Unlock()
	}
}

func (r *Registry) deliver(p pending) {
	r.opts.recorder.RegistryEvent(context.Background(), string(p.n.Event))
	for _, s := range r.subscribers(p.n.Name) {
		r.call(s, p.n)
	}
	if p.release != nil {
		if err := p.release.Close(); err != nil && !errors.Is(err, xlog.ErrClosed) {
			r.opts.logger.LogAttrs(context.Background(), slog.LevelWarn, "xregistry: close replaced handle failed",
				slog.String("name", p.n.Name), xlog.Err(err))
		}
	}
}

// subscribers 名称订阅与通配订阅合并后按订阅顺序返回
func (r *Registry) subscribers(name string) []subscription {
	r.mu.RLock()
	subs := slices.Clone(r.subs[name])
	if name != AllNames {
		subs = append(subs, r.subs[AllNames]...)
	}
	r.mu.RUnlock()
	slices.SortFunc(subs, func(a, b subscription) int { return cmp.Compare(a.id, b.id) })
	return subs
}

// call 隔离单个订阅者的 panic
func (r *Registry) call(s subscription, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.opts.logger.Error("xregistry: subscriber panic recovered",
				"panic", rec,
				"name", n.Name,
				"event", string(n.Event),
				"subscription", s.id,
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.fn(n)
}
