package xlogconf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback 每次重载后调用，err 为 nil 表示新文档已生效
type ReloadCallback func(err error)

// WatchOption 监视器配置选项
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
	onReload ReloadCallback
}

func defaultWatchOptions() watchOptions {
	return watchOptions{
		debounce: 100 * time.Millisecond, // 默认防抖时间
	}
}

// WithDebounce 设置防抖时间，指定时间内的多次变更只触发一次重载。非正值被忽略。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithOnReload 设置重载回调
func WithOnReload(fn ReloadCallback) WatchOption {
	return func(o *watchOptions) { o.onReload = fn }
}

// Watcher 配置文件监视器
//
// 文件变更后读取文档并调用 [Config.UpdateFrom]，新设置推送到全部关联名称。
type Watcher struct {
	cfg     *Config
	path    string
	format  Format
	opts    watchOptions
	watcher *fsnotify.Watcher

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch 监视配置文件并在变更时热更新，返回已启动的监视器
//
// 监视文件所在目录而非文件本身：编辑器保存时可能先删除再创建，直接监视文件会丢失事件。
// 调用方负责 [Watcher.Stop]。
func (c *Config) Watch(path string, opts ...WatchOption) (*Watcher, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	o := defaultWatchOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xlogconf: failed to create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		closeErr := fsWatcher.Close()
		return nil, errors.Join(
			fmt.Errorf("xlogconf: failed to watch directory %s: %w", dir, err),
			closeErr,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:     c,
		path:    path,
		format:  format,
		opts:    o,
		watcher: fsWatcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Reload 立即读取文件并更新配置
func (w *Watcher) Reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("xlogconf: reload %s: %w", w.path, err)
	}
	raw, err := parseDocument(data, w.format)
	if err != nil {
		return err
	}
	return w.cfg.UpdateFrom(raw)
}

// Stop 停止监视并等待监视 goroutine 退出，重复调用是安全的
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

// run 监视循环
//
// 设计决策: 防抖定时器在监视 goroutine 内处理，重载也在该 goroutine 执行，
// Stop 返回后不会再有重载或回调。
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	filename := filepath.Base(w.path)

	timer := time.NewTimer(w.opts.debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event, filename) {
				continue
			}
			timer.Reset(w.opts.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.notify(w.Reload())

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.notify(fmt.Errorf("xlogconf: watch error: %w", err))
		}
	}
}

// relevant 只处理目标文件可能表示内容更新的事件
//
//   - Write: 直接修改
//   - Create: 新建文件（部分编辑器）
//   - Rename: 原子写入（写临时文件后 rename）
func relevant(event fsnotify.Event, filename string) bool {
	if filepath.Base(event.Name) != filename {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) notify(err error) {
	if w.opts.onReload != nil {
		w.opts.onReload(err)
	}
}
