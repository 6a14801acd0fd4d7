package xlogconf

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
)

// Config 可复用的 logger 配置模板
//
// 一个 Config 可以应用到多个名称。之后的 [Config.Update] 会原地更新这些名称
// 已有的 Handle，Handle 身份不变。Config 的内容可变，身份稳定；
// 解除关联不会销毁 Config。
//
// 设计决策: 变更与向注册表推送都在 Config 的锁内完成，注册表通知通过
// xregistry.Batch 延迟到解锁之后投递，订阅者可以在回调中自由调用 Config 与注册表。
type Config struct {
	reg *xregistry.Registry

	mu       sync.Mutex
	settings xlog.Settings
	logger   *slog.Logger
	attached map[string]struct{}
}

// reattach 一次所有权转移，解锁后通知原所有者
type reattach struct {
	name string
	from *Config
}

// New 创建配置，opts 在默认设置（INFO、text、仅控制台）之上生效
//
// 设置立即校验，非法时返回包装 xlog.ErrInvalidSetting 的错误。
func New(reg *xregistry.Registry, opts ...Option) (*Config, error) {
	o := defaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	return newFromOptions(reg, o)
}

func newFromOptions(reg *xregistry.Registry, o options) (*Config, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	return &Config{
		reg:      reg,
		settings: o.s,
		logger:   o.logger,
		attached: make(map[string]struct{}),
	}, nil
}

// Registry 返回配置所属的注册表
func (c *Config) Registry() *xregistry.Registry { return c.reg }

// Settings 返回当前设置的副本
func (c *Config) Settings() xlog.Settings {
	s, _ := c.snapshot()
	return s
}

func (c *Config) snapshot() (xlog.Settings, *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone(), c.logger
}

// Fields 返回当前设置的持久化形式
func (c *Config) Fields() Fields {
	return fieldsOf(c.Settings())
}

// Attached 按字典序返回关联的名称
func (c *Config) Attached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedLocked()
}

// IsAttached 判断名称是否关联到此配置
func (c *Config) IsAttached(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attached[name]
	return ok
}

// ApplyTo 把当前设置应用到名称并建立关联
//
// 名称未注册时创建 Handle；已注册时原地更新其 Handle。名称原先关联到另一个配置时，
// 记录一条 WARN 提示，并把它从原配置解除关联。单个名称失败不影响其他名称，
// 错误合并返回。
func (c *Config) ApplyTo(names ...string) ([]*xlog.Handle, error) {
	if len(names) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	batch := c.reg.Batch()
	handles := make([]*xlog.Handle, 0, len(names))
	var (
		errs  []error
		moved []reattach
	)
	for _, name := range names {
		e, prev, err := c.reg.Upsert(name, c.settings, xregistry.WithOwner(c))
		if err != nil {
			errs = append(errs, fmt.Errorf("xlogconf: apply to %q: %w", name, err))
			continue
		}
		if old, ok := prev.(*Config); ok && old != c {
			moved = append(moved, reattach{name: name, from: old})
		}
		c.attached[name] = struct{}{}
		handles = append(handles, e.Handle)
	}
	logger := c.logger
	c.mu.Unlock()
	batch.Commit()

	for _, m := range moved {
		if m.from.release(m.name) {
			logger.Warn("xlogconf: logger reattached to another config", "name", m.name)
		}
	}
	return handles, errors.Join(errs...)
}

// Update 合并 opts 并推送到所有关联名称的 Handle
//
// 校验失败时配置保持不变。没有关联名称时只修改配置本身。
// 并发调用以最后一次为准，配置与 Handle 的最终状态一致。
func (c *Config) Update(opts ...Option) error {
	c.mu.Lock()
	o := options{s: c.settings.Clone(), logger: c.logger}
	if err := o.apply(opts); err != nil {
		c.mu.Unlock()
		return err
	}
	return c.commitLocked(o)
}

// Clone 复制设置得到新的配置，关联名称为空，opts 覆盖复制的值
func (c *Config) Clone(opts ...Option) (*Config, error) {
	s, logger := c.snapshot()
	o := options{s: s, logger: logger}
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	return newFromOptions(c.reg, o)
}

// InheritFrom 复制 parent 的非空字段（不含其关联名称），再应用 opts，
// 结果与 [Config.Update] 一样推送到关联名称
func (c *Config) InheritFrom(parent *Config, opts ...Option) error {
	if parent == nil {
		return ErrNilParent
	}
	ps, _ := parent.snapshot()

	c.mu.Lock()
	o := options{s: c.settings.Clone(), logger: c.logger}
	inherit(&o.s, ps)
	if err := o.apply(opts); err != nil {
		c.mu.Unlock()
		return err
	}
	return c.commitLocked(o)
}

// Inherit 以 parent 的非空字段为基础创建新配置，关联名称为空
func Inherit(parent *Config, opts ...Option) (*Config, error) {
	if parent == nil {
		return nil, ErrNilParent
	}
	ps, logger := parent.snapshot()
	o := options{s: xlog.DefaultSettings(), logger: logger}
	inherit(&o.s, ps)
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	return newFromOptions(parent.reg, o)
}

// Detach 解除名称关联，Handle 保持当前设置，之后的更新不再影响它们
func (c *Config) Detach(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		delete(c.attached, name)
	}
}

// DetachAll 解除全部关联
func (c *Config) DetachAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.attached)
}

// commitLocked 调用方持有 c.mu，返回前解锁
func (c *Config) commitLocked(o options) error {
	c.settings = o.s
	c.logger = o.logger
	batch := c.reg.Batch()
	errs := c.pushLocked()
	c.mu.Unlock()
	batch.Commit()
	return errors.Join(errs...)
}

// pushLocked 按名称顺序推送当前设置
//
// 已被注销或被其他配置接管的名称从关联集合中移除。
func (c *Config) pushLocked() []error {
	var errs []error
	for _, name := range c.attachedLocked() {
		err := c.reg.UpdateSettings(name, c.settings, xregistry.IfOwner(c))
		switch {
		case err == nil:
		case errors.Is(err, xregistry.ErrNotFound), errors.Is(err, xregistry.ErrNotOwner):
			delete(c.attached, name)
		default:
			errs = append(errs, fmt.Errorf("xlogconf: update %q: %w", name, err))
		}
	}
	return errs
}

func (c *Config) attachedLocked() []string {
	return slices.Sorted(maps.Keys(c.attached))
}

// release 名称被其他配置接管，返回之前是否关联
func (c *Config) release(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attached[name]
	delete(c.attached, name)
	return ok
}

// inherit 把 parent 的非空字段复制到 dst
func inherit(dst *xlog.Settings, parent xlog.Settings) {
	dst.Level = parent.Level
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.LogPath, parent.LogPath},
		{&dst.Rotation, parent.Rotation},
		{&dst.Retention, parent.Retention},
		{&dst.Compression, parent.Compression},
		{&dst.CompressionFormat, parent.CompressionFormat},
		{&dst.Subdirectory, parent.Subdirectory},
		{&dst.Format, parent.Format},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	if len(parent.Extra) > 0 {
		dst.Extra = maps.Clone(parent.Extra)
	}
	dst.Native = dst.Native || parent.Native
	dst.Cleaner = dst.Cleaner || parent.Cleaner
}
