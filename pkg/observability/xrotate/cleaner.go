package xrotate

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Cleaner 按 cron 调度周期性执行保留清理
//
// 轮转器只在轮转后清理，长时间没有写入的 logger 依赖 Cleaner 删除过期归档。
type Cleaner struct {
	dir       string
	match     func(name string) bool
	retention Retention
	cfg       config

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	runMu   sync.Mutex // 串行化单次清理
}

// NewCleaner 创建清理器
//
// match 判断目录项是否为需要管理的归档，通常取 [Namer.Match]。
// 使用 WithSchedule 设置调度（默认 "@every 1h"），WithClock、WithRecorder、WithName、WithOnError 同样生效。
func NewCleaner(dir string, match func(name string) bool, retention Retention, opts ...Option) (*Cleaner, error) {
	if dir == "" {
		return nil, ErrEmptyFilename
	}
	if match == nil {
		return nil, fmt.Errorf("%w: archive matcher is required", ErrInvalidTemplate)
	}
	if retention.IsZero() {
		return nil, fmt.Errorf("%w: nothing to clean", ErrInvalidRetention)
	}
	cfg := newConfig(opts)
	if _, err := cron.ParseStandard(cfg.schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", ErrInvalidRotation, cfg.schedule, err)
	}
	return &Cleaner{dir: dir, match: match, retention: retention, cfg: cfg}, nil
}

// Start 启动周期清理，重复调用无效果
func (c *Cleaner) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.cfg.schedule, func() { _, _ = c.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("%w: schedule %q: %w", ErrInvalidRotation, c.cfg.schedule, err)
	}
	c.cron.Start()
	c.running = true
	return nil
}

// RunOnce 立即执行一次清理，返回被删除的归档路径
func (c *Cleaner) RunOnce(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.runMu.Lock()
	defer c.runMu.Unlock()

	removed, err := Sweep(c.dir, c.match, c.retention, c.cfg.clock())
	if err != nil {
		err = fmt.Errorf("xrotate: clean %s: %w", c.dir, err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
	}
	c.cfg.recorder.ArchivesRemoved(ctx, c.cfg.name, len(removed))
	return removed, err
}

// Stop 停止调度并等待正在执行的清理完成
func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	done := c.cron.Stop()
	c.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
