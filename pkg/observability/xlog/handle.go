package xlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/omeyang/xlogkit/pkg/observability/xroute"
	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
)

// 编译时接口检查
var _ Emitter = (*Handle)(nil)

// Handle 一个具名的 logger 实例
//
// Handle 的身份（ID）在整个生命周期内不变，[Handle.Apply] 原地替换设置。
// Emit 持有读锁，Apply/Close 持有写锁，因此任何一次 Emit 都不会看到
// 只替换了一半的 sink。
//
// OnError 回调从不在 Handle 的锁内执行：持锁期间产生的错误先排队，
// 由持锁的调用在解锁后送达，回调可以自由调用注册表或同一个 Handle。
type Handle struct {
	id     uuid.UUID
	name   string
	opts   handleOptions
	engine Engine
	level  *slog.LevelVar

	mu          sync.RWMutex
	settings    Settings
	sinks       []SinkID
	routes      *xroute.Table
	rotator     xrotate.Rotator
	cleaner     *xrotate.Cleaner
	logFile     string
	initialized bool
	closed      bool

	fallbackWarned atomic.Bool // 每组设置只提示一次目的地回退
	errorCount     atomic.Uint64
	inErrorHandler atomic.Bool

	busy     atomic.Int64 // 正在持有 mu 的调用数
	errMu    sync.Mutex
	deferred []error // 等待送达 OnError 的错误
}

// NewHandle 按设置创建 Handle
//
// 设置非法时返回包装 [ErrInvalidSetting] 的错误；LogPath 非空时立即创建目录，
// 活动文件在首次写入时打开。
func NewHandle(name string, s Settings, opts ...HandleOption) (*Handle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	o := defaultHandleOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	h := &Handle{
		id:     uuid.New(),
		name:   name,
		opts:   o,
		engine: o.newEngine(),
		level:  new(slog.LevelVar),
	}
	// 构造常在注册表的名称锁内执行，期间的错误留到之后的调用送达
	h.enter()
	release, err := h.applyLocked(s.Clone())
	release()
	h.busy.Add(-1)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ID 返回 Handle 的唯一标识
func (h *Handle) ID() string { return h.id.String() }

// Name 返回 Handle 名称
func (h *Handle) Name() string { return h.name }

// Settings 返回当前设置的副本
func (h *Handle) Settings() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings.Clone()
}

// Level 返回当前级别
func (h *Handle) Level() Level {
	return Level(h.level.Level())
}

// Enabled 判断级别是否会被输出
func (h *Handle) Enabled(level Level) bool {
	return level >= h.Level()
}

// LogFile 返回活动日志文件路径，仅控制台输出时为空
func (h *Handle) LogFile() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logFile
}

// ErrorCount 返回累计的内部错误数
func (h *Handle) ErrorCount() uint64 {
	return h.errorCount.Load()
}

// Logger 返回绑定到此 Handle 的 [Logger]
func (h *Handle) Logger() Logger {
	return NewView(h)
}

// Emit 输出一条记录
//
// 记录被限定到未配置的目的地时改投另一个目的地，并在当前设置下只提示一次。
// 写出失败会调用 OnError 回调，同时返回错误。
func (h *Handle) Emit(ctx context.Context, level Level, tags xroute.Tags, msg string, attrs ...slog.Attr) error {
	h.enter()
	defer h.leave()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if level < h.settings.Level {
		return nil
	}

	routed, fellBack := h.routes.Resolve(tags)
	if fellBack {
		h.warnFallback(ctx, tags, routed)
	}
	err := h.engine.Emit(ctx, Record{
		Time:    h.opts.clock(),
		Level:   level,
		Message: msg,
		Attrs:   attrs,
		Tags:    routed,
	})
	h.reportError(err)
	return err
}

// Apply 原地替换设置，Handle 身份不变
//
// 文件相关设置不变时沿用已打开的轮转器，已写入的活动文件不受影响。
// 校验失败或新文件无法准备时保留原设置。
// Apply 常在调用方自己的锁内执行，期间产生的内部错误延后到下一次
// Emit、Rotate、Sync 或 Close 时送达 OnError。
func (h *Handle) Apply(s Settings) error {
	s = s.Clone()
	h.enter()
	defer h.busy.Add(-1)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	release, err := h.applyLocked(s)
	h.mu.Unlock()
	release()
	return err
}

// Rotate 手动轮转日志文件，仅控制台输出时无操作
func (h *Handle) Rotate() error {
	h.enter()
	defer h.leave()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if h.rotator == nil {
		return nil
	}
	return h.rotator.Rotate()
}

// Sync 把文件内容刷到磁盘并等待后台归档完成
func (h *Handle) Sync() error {
	h.enter()
	defer h.leave()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.rotator == nil {
		return nil
	}
	return h.rotator.Sync()
}

// Close 移除全部 sink 并关闭日志文件，重复调用返回 [ErrClosed]
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	for _, id := range h.sinks {
		h.engine.RemoveSink(id)
	}
	h.sinks = nil
	rotator, cleaner := h.rotator, h.cleaner
	h.rotator, h.cleaner = nil, nil
	h.mu.Unlock()

	var errs []error
	if cleaner != nil {
		errs = append(errs, cleaner.Stop(context.Background()))
	}
	if rotator != nil {
		errs = append(errs, rotator.Close())
	}
	h.flushErrors()
	return errors.Join(errs...)
}

// applyLocked 在写锁内切换设置，返回需要在解锁后执行的释放函数（永不为 nil）
//
// 新资源全部准备好之后才替换，失败时 Handle 保持原样。
func (h *Handle) applyLocked(s Settings) (func(), error) {
	noop := func() {}
	res, err := s.resolve()
	if err != nil {
		return noop, err
	}

	fileChanged := !h.initialized || !s.sameFile(h.settings)
	rotator, logFile := h.rotator, h.logFile
	if fileChanged {
		if rotator, logFile, err = h.openFile(s, res); err != nil {
			return noop, err
		}
	}

	cleaner := h.cleaner
	cleanerChanged := fileChanged || s.Cleaner != h.settings.Cleaner
	if cleanerChanged {
		if cleaner, err = h.newCleaner(s, res, logFile); err != nil {
			if fileChanged && rotator != nil {
				_ = rotator.Close()
			}
			return noop, err
		}
	}

	// 提交：替换 sink、路由表与文件资源
	for _, id := range h.sinks {
		h.engine.RemoveSink(id)
	}
	h.level.Set(slog.Level(s.Level))
	attrs := baseAttrs(h.name, s.Extra)
	routes := xroute.NewTable(xroute.Console)
	h.sinks = append(h.sinks[:0], h.engine.AddSink(Sink{
		Destination: xroute.Console,
		Handler:     h.newHandler(h.opts.console, res.format).WithAttrs(attrs),
		Level:       h.level,
	}))
	if rotator != nil {
		h.sinks = append(h.sinks, h.engine.AddSink(Sink{
			Destination: xroute.File,
			Handler:     h.newHandler(rotator, res.format).WithAttrs(attrs),
			Level:       h.level,
		}))
		routes.Add(xroute.File)
	}

	oldRotator, oldCleaner := h.rotator, h.cleaner
	h.routes = routes
	h.settings = s
	h.rotator, h.logFile = rotator, logFile
	h.cleaner = cleaner
	h.initialized = true
	h.fallbackWarned.Store(false)

	return func() {
		if cleanerChanged {
			if oldCleaner != nil {
				h.reportError(oldCleaner.Stop(context.Background()))
			}
			if cleaner != nil {
				h.reportError(cleaner.Start())
			}
		}
		if fileChanged && oldRotator != nil {
			if err := oldRotator.Close(); err != nil && !errors.Is(err, xrotate.ErrClosed) {
				h.reportError(err)
			}
		}
	}, nil
}

// openFile 按设置创建轮转器，LogPath 为空时返回 nil
func (h *Handle) openFile(s Settings, res resolved) (xrotate.Rotator, string, error) {
	path, err := s.LogFile(h.name)
	if err != nil {
		return nil, "", settingError("log_path", s.LogPath, err)
	}
	if path == "" {
		return nil, "", nil
	}
	base, err := fileBase(h.name)
	if err != nil {
		return nil, "", err
	}
	onError := h.reportError

	if s.Native {
		opts, err := xrotate.NativeOptions(res.policy, res.retention, res.codec)
		if err != nil {
			return nil, "", settingError("native", s.Rotation, err)
		}
		opts = append(opts, xrotate.WithFileMode(h.opts.fileMode), xrotate.WithOnError(onError))
		r, err := xrotate.NewLumberjack(path, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("xlog: open %s: %w", path, err)
		}
		return r, path, nil
	}

	r, err := xrotate.NewFile(path,
		xrotate.WithName(base),
		xrotate.WithPolicy(res.policy),
		xrotate.WithRetention(res.retention),
		xrotate.WithCodec(res.codec),
		xrotate.WithArchiveTemplate(s.CompressionFormat),
		xrotate.WithDispatcher(h.opts.dispatcher),
		xrotate.WithRecorder(h.opts.recorder),
		xrotate.WithClock(h.opts.clock),
		xrotate.WithFileMode(h.opts.fileMode),
		xrotate.WithOnError(onError),
	)
	if err != nil {
		return nil, "", fmt.Errorf("xlog: open %s: %w", path, err)
	}
	return r, path, nil
}

// newCleaner 按设置创建（未启动的）周期清理器，不需要时返回 nil
//
// 原生模式的备份由 lumberjack 自行清理。
func (h *Handle) newCleaner(s Settings, res resolved, logFile string) (*xrotate.Cleaner, error) {
	if !s.Cleaner || s.Native || logFile == "" || res.retention.IsZero() {
		return nil, nil
	}
	namer, err := s.Namer(h.name)
	if err != nil {
		return nil, err
	}
	live := filepath.Base(logFile)
	match := func(name string) bool { return name != live && namer.Match(name) }
	return xrotate.NewCleaner(filepath.Dir(logFile), match, res.retention,
		xrotate.WithName(namer.Name()),
		xrotate.WithClock(h.opts.clock),
		xrotate.WithRecorder(h.opts.recorder),
		xrotate.WithOnError(h.reportError),
	)
}

func (h *Handle) newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: h.level, ReplaceAttr: h.replaceAttr}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (h *Handle) replaceAttr(groups []string, a slog.Attr) slog.Attr {
	a = replaceLevelName(groups, a)
	if h.opts.replaceAttr != nil {
		a = h.opts.replaceAttr(groups, a)
	}
	return a
}

// warnFallback 提示记录被改投到另一个目的地
func (h *Handle) warnFallback(ctx context.Context, requested, routed xroute.Tags) {
	if !h.fallbackWarned.CompareAndSwap(false, true) {
		return
	}
	to := xroute.Console
	if routed == xroute.FileOnly {
		to = xroute.File
	}
	h.opts.recorder.Fallback(ctx, h.name, to.String())
	err := h.engine.Emit(ctx, Record{
		Time:    h.opts.clock(),
		Level:   LevelWarn,
		Message: "destination not configured, redirecting records",
		Attrs:   []slog.Attr{slog.String("requested", requested.String()), slog.String("redirected_to", to.String())},
		Tags:    routed,
	})
	h.reportError(err)
}

// enter 标记一次持锁调用开始，期间上报的错误只排队
func (h *Handle) enter() { h.busy.Add(1) }

// leave 在解锁之后调用，送达排队的错误
func (h *Handle) leave() {
	h.busy.Add(-1)
	h.flushErrors()
}

// reportError 上报内部错误
//
// 轮转器与清理器的回调也走这里。没有持锁调用时立即送达；否则排队，
// 由持锁调用在 leave 中送达。先入队再检查计数，错误不会滞留。
func (h *Handle) reportError(err error) {
	if err == nil {
		return
	}
	h.errMu.Lock()
	h.deferred = append(h.deferred, err)
	h.errMu.Unlock()
	if h.busy.Load() == 0 {
		h.flushErrors()
	}
}

// flushErrors 送达排队的错误，调用方不得持有 mu
func (h *Handle) flushErrors() {
	for {
		h.errMu.Lock()
		errs := h.deferred
		h.deferred = nil
		h.errMu.Unlock()
		if len(errs) == 0 {
			return
		}
		for _, err := range errs {
			h.handleError(err)
		}
	}
}

// handleError 处理内部错误
//
// 递归保护：onError 回调内部再次触发错误时不会无限递归。
// 回调 panic 被隔离并计入错误计数。
//
// 设计决策: CAS 保护导致并发期间部分错误跳过 onError 回调，errorCount 仍计入全部错误。
func (h *Handle) handleError(err error) {
	if err == nil {
		return
	}
	h.errorCount.Add(1)
	if h.opts.onError != nil && h.inErrorHandler.CompareAndSwap(false, true) {
		defer h.inErrorHandler.Store(false)
		h.safeOnError(err)
	}
}

func (h *Handle) safeOnError(err error) {
	defer func() {
		if r := recover(); r != nil {
			h.errorCount.Add(1)
		}
	}()
	h.opts.onError(err)
}

// baseAttrs 每条记录携带的固定属性：logger 名称加上按 key 排序的 extra
func baseAttrs(name string, extra map[string]any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(extra)+1)
	attrs = append(attrs, slog.String(KeyLogger, name))
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, extra[k]))
	}
	return attrs
}
