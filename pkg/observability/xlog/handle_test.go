package xlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xrotate"
)

// =============================================================================
// 测试辅助
// =============================================================================

// syncBuffer 并发安全的输出缓冲
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// errWriter 总是写失败
type errWriter struct{ err error }

func (w errWriter) Write([]byte) (int, error) { return 0, w.err }

func newHandle(t *testing.T, name string, s xlog.Settings, opts ...xlog.HandleOption) *xlog.Handle {
	t.Helper()
	h, err := xlog.NewHandle(name, s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func readLog(t *testing.T, h *xlog.Handle) string {
	t.Helper()
	require.NoError(t, h.Sync())
	data, err := os.ReadFile(h.LogFile())
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// 创建与校验
// =============================================================================

func TestNewHandle_Validation(t *testing.T) {
	_, err := xlog.NewHandle("", xlog.DefaultSettings())
	assert.ErrorIs(t, err, xlog.ErrEmptyName)

	_, err = xlog.NewHandle("  ", xlog.DefaultSettings())
	assert.ErrorIs(t, err, xlog.ErrEmptyName)

	_, err = xlog.NewHandle("app", xlog.Settings{Rotation: "whenever"})
	assert.ErrorIs(t, err, xlog.ErrInvalidSetting)
	assert.ErrorIs(t, err, xrotate.ErrInvalidRotation)
}

func TestHandle_ConsoleOnly(t *testing.T) {
	var out syncBuffer
	h := newHandle(t, "app", xlog.DefaultSettings(), xlog.WithConsole(&out))

	assert.NotEmpty(t, h.ID())
	assert.Equal(t, "app", h.Name())
	assert.Empty(t, h.LogFile())
	assert.NoError(t, h.Rotate(), "无文件输出时手动轮转无操作")
	assert.NoError(t, h.Sync())
	assert.True(t, h.Enabled(xlog.LevelInfo))
	assert.False(t, h.Enabled(xlog.LevelDebug))

	log := h.Logger()
	log.Debug(t.Context(), "hidden")
	log.Info(t.Context(), "shown", xlog.Count(3))

	got := out.String()
	assert.NotContains(t, got, "hidden")
	assert.Contains(t, got, "msg=shown")
	assert.Contains(t, got, "logger=app")
	assert.Contains(t, got, "count=3")
}

// =============================================================================
// 目的地路由
// =============================================================================

func TestHandle_FileDestinations(t *testing.T) {
	var console syncBuffer
	dir := t.TempDir()
	h := newHandle(t, "app", xlog.Settings{LogPath: dir}, xlog.WithConsole(&console))
	assert.Equal(t, filepath.Join(dir, "app.log"), h.LogFile())

	ctx := t.Context()
	log := h.Logger()
	log.Info(ctx, "to-both")
	log.Console().Info(ctx, "console-only")
	log.Dev().Info(ctx, "dev-only")
	log.File().Info(ctx, "file-only")

	file := readLog(t, h)
	assert.Contains(t, console.String(), "to-both")
	assert.Contains(t, file, "to-both")

	assert.Contains(t, console.String(), "console-only")
	assert.NotContains(t, file, "console-only")
	assert.Contains(t, console.String(), "dev-only")
	assert.NotContains(t, file, "dev-only")

	assert.Contains(t, file, "file-only")
	assert.NotContains(t, console.String(), "file-only")
	assert.NotContains(t, console.String(), "redirecting", "有文件 sink 时不回退")
}

func TestHandle_FileFallbackWarnsOnce(t *testing.T) {
	var console syncBuffer
	h := newHandle(t, "app", xlog.DefaultSettings(), xlog.WithConsole(&console))

	ctx := t.Context()
	file := h.Logger().File()
	file.Info(ctx, "first")
	file.Info(ctx, "second")

	got := console.String()
	assert.Contains(t, got, "first")
	assert.Contains(t, got, "second")
	assert.Equal(t, 1, strings.Count(got, "redirecting"), "同一组设置只提示一次")
	assert.Contains(t, got, "requested=file-only")

	// 重新应用设置后重新提示
	require.NoError(t, h.Apply(xlog.DefaultSettings()))
	file.Info(ctx, "third")
	assert.Equal(t, 2, strings.Count(console.String(), "redirecting"))
}

// =============================================================================
// 原地更新
// =============================================================================

func TestHandle_ApplyInPlace(t *testing.T) {
	var console syncBuffer
	dir := t.TempDir()
	h := newHandle(t, "app", xlog.Settings{LogPath: dir, Rotation: "1 day"}, xlog.WithConsole(&console))
	id, path := h.ID(), h.LogFile()
	log := h.Logger()

	ctx := t.Context()
	log.Info(ctx, "before")
	log.Debug(ctx, "debug-before")

	require.NoError(t, h.Apply(xlog.Settings{LogPath: dir, Rotation: "1 day", Level: xlog.LevelDebug}))
	assert.Equal(t, id, h.ID(), "身份不变")
	assert.Equal(t, path, h.LogFile(), "文件设置不变时沿用轮转器")
	assert.Equal(t, xlog.LevelDebug, h.Settings().Level)

	log.Debug(ctx, "debug-after")

	file := readLog(t, h)
	assert.Contains(t, file, "before")
	assert.NotContains(t, file, "debug-before")
	assert.Contains(t, file, "debug-after")
}

func TestHandle_ApplyChangesFile(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	h := newHandle(t, "app", xlog.Settings{LogPath: oldDir}, xlog.WithConsole(&syncBuffer{}))
	h.Logger().Info(t.Context(), "old")
	oldFile := readLog(t, h)

	require.NoError(t, h.Apply(xlog.Settings{LogPath: newDir, Subdirectory: "sub"}))
	assert.Equal(t, filepath.Join(newDir, "sub", "app.log"), h.LogFile())
	h.Logger().Info(t.Context(), "new")

	assert.Contains(t, oldFile, "old")
	newFile := readLog(t, h)
	assert.Contains(t, newFile, "new")
	assert.NotContains(t, newFile, "old")

	data, err := os.ReadFile(filepath.Join(oldDir, "app.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "new")
}

func TestHandle_ApplyInvalidKeepsSettings(t *testing.T) {
	h := newHandle(t, "app", xlog.Settings{Level: xlog.LevelWarn}, xlog.WithConsole(&syncBuffer{}))

	err := h.Apply(xlog.Settings{Compression: "rar"})
	require.ErrorIs(t, err, xlog.ErrInvalidSetting)
	assert.Equal(t, xlog.LevelWarn, h.Settings().Level)
	assert.Equal(t, xlog.LevelWarn, h.Level())
}

func TestHandle_SettingsIsCopy(t *testing.T) {
	extra := map[string]any{"env": "prod"}
	h := newHandle(t, "app", xlog.Settings{Extra: extra}, xlog.WithConsole(&syncBuffer{}))
	extra["env"] = "changed"

	s := h.Settings()
	assert.Equal(t, "prod", s.Extra["env"], "创建时复制 Extra")
	s.Extra["env"] = "mutated"
	assert.Equal(t, "prod", h.Settings().Extra["env"])
}

// =============================================================================
// 输出格式
// =============================================================================

func TestHandle_JSONWithExtra(t *testing.T) {
	var console syncBuffer
	h := newHandle(t, "api", xlog.Settings{
		Format: "json",
		Extra:  map[string]any{"env": "prod", "zone": "a"},
	}, xlog.WithConsole(&console))

	h.Logger().Success(t.Context(), "deployed", xlog.Path("/srv/release"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(console.String())), &rec))
	assert.Equal(t, "SUCCESS", rec["level"])
	assert.Equal(t, "deployed", rec["msg"])
	assert.Equal(t, "api", rec[xlog.KeyLogger])
	assert.Equal(t, "prod", rec["env"])
	assert.Equal(t, "a", rec["zone"])
	assert.Equal(t, "/srv/release", rec[xlog.KeyPath])
}

func TestHandle_ReplaceAttr(t *testing.T) {
	var console syncBuffer
	redact := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == "password" {
			return slog.String("password", "***")
		}
		return a
	}
	h := newHandle(t, "app", xlog.DefaultSettings(), xlog.WithConsole(&console), xlog.WithReplaceAttr(redact))
	h.Logger().Warn(t.Context(), "login", slog.String("password", "secret"))

	got := console.String()
	assert.Contains(t, got, "password=***")
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "level=WARN", "级别名称替换先于自定义替换")
}

// =============================================================================
// 错误处理
// =============================================================================

func TestHandle_OnError(t *testing.T) {
	writeErr := errors.New("disk full")
	var calls atomic.Int32
	h := newHandle(t, "app", xlog.DefaultSettings(),
		xlog.WithConsole(errWriter{writeErr}),
		xlog.WithOnError(func(err error) {
			calls.Add(1)
			assert.ErrorIs(t, err, writeErr)
		}),
	)

	err := h.Logger().Log(t.Context(), xlog.LevelError, "lost")
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), h.ErrorCount())
}

func TestHandle_OnErrorPanicIsolated(t *testing.T) {
	h := newHandle(t, "app", xlog.DefaultSettings(),
		xlog.WithConsole(errWriter{errors.New("broken")}),
		xlog.WithOnError(func(error) { panic("callback bug") }),
	)

	assert.NotPanics(t, func() { h.Logger().Info(t.Context(), "x") })
	assert.Equal(t, uint64(2), h.ErrorCount(), "写出错误与回调 panic 都计数")
}

func TestHandle_OnErrorRunsOutsideLock(t *testing.T) {
	var h *xlog.Handle
	applied := make(chan error, 1)
	h = newHandle(t, "app", xlog.DefaultSettings(),
		xlog.WithConsole(errWriter{errors.New("disk full")}),
		xlog.WithOnError(func(error) {
			// Apply 需要写锁，回调若仍在读锁内执行会死锁
			select {
			case applied <- h.Apply(xlog.Settings{Level: xlog.LevelWarn}):
			default:
			}
		}),
	)

	done := make(chan error, 1)
	go func() { done <- h.Logger().Log(t.Context(), xlog.LevelError, "lost") }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Emit 未返回")
	}
	require.NoError(t, <-applied)
	assert.Equal(t, xlog.LevelWarn, h.Level())
}

func TestHandle_OnErrorMayLogToSameHandle(t *testing.T) {
	var (
		h     *xlog.Handle
		calls atomic.Int32
	)
	h = newHandle(t, "app", xlog.DefaultSettings(),
		xlog.WithConsole(errWriter{errors.New("broken")}),
		xlog.WithOnError(func(err error) {
			calls.Add(1)
			_ = h.Logger().Log(context.Background(), xlog.LevelError, "write failed", xlog.Err(err))
		}),
	)

	assert.Error(t, h.Logger().Log(t.Context(), xlog.LevelError, "x"))
	assert.Equal(t, int32(1), calls.Load(), "回调内的错误不再回调")
	assert.Equal(t, uint64(2), h.ErrorCount())
}

func TestHandle_Close(t *testing.T) {
	dir := t.TempDir()
	h, err := xlog.NewHandle("app", xlog.Settings{LogPath: dir}, xlog.WithConsole(&syncBuffer{}))
	require.NoError(t, err)
	h.Logger().Info(t.Context(), "x")

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Close(), xlog.ErrClosed)
	assert.ErrorIs(t, h.Logger().Log(t.Context(), xlog.LevelInfo, "late"), xlog.ErrClosed)
	assert.ErrorIs(t, h.Apply(xlog.DefaultSettings()), xlog.ErrClosed)
	assert.ErrorIs(t, h.Rotate(), xlog.ErrClosed)
	assert.NoError(t, h.Sync())
}

// =============================================================================
// 文件模式
// =============================================================================

func TestHandle_Native(t *testing.T) {
	dir := t.TempDir()
	h := newHandle(t, "app", xlog.Settings{
		LogPath:   dir,
		Rotation:  "10 MB",
		Retention: "3 files",
		Native:    true,
	}, xlog.WithConsole(&syncBuffer{}))

	h.Logger().Info(t.Context(), "native")
	assert.Contains(t, readLog(t, h), "native")
	require.NoError(t, h.Rotate())
}

func TestHandle_ManualRotate(t *testing.T) {
	dir := t.TempDir()
	h := newHandle(t, "app", xlog.Settings{LogPath: dir, Rotation: "1 day"}, xlog.WithConsole(&syncBuffer{}))

	h.Logger().Info(t.Context(), "archived")
	require.NoError(t, h.Rotate())
	require.NoError(t, h.Sync())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var archives []string
	for _, e := range entries {
		if e.Name() != "app.log" {
			archives = append(archives, e.Name())
		}
	}
	require.Len(t, archives, 1)
	assert.True(t, strings.HasPrefix(archives[0], "[app]"), archives[0])
}

func TestHandle_CleanerLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := xlog.Settings{LogPath: dir, Rotation: "1 day", Retention: "2 files", Cleaner: true}
	h, err := xlog.NewHandle("app", s, xlog.WithConsole(&syncBuffer{}))
	require.NoError(t, err)

	s.Cleaner = false
	require.NoError(t, h.Apply(s))
	s.Cleaner = true
	require.NoError(t, h.Apply(s))
	require.NoError(t, h.Close())
}

// =============================================================================
// 引擎与并发
// =============================================================================

// countingEngine 统计 Emit 次数的 Engine
type countingEngine struct {
	*xlog.SinkEngine
	emits atomic.Int64
}

func (e *countingEngine) Emit(ctx context.Context, rec xlog.Record) error {
	e.emits.Add(1)
	return e.SinkEngine.Emit(ctx, rec)
}

func TestHandle_WithEngine(t *testing.T) {
	eng := &countingEngine{SinkEngine: xlog.NewSinkEngine()}
	h := newHandle(t, "app", xlog.DefaultSettings(),
		xlog.WithConsole(&syncBuffer{}),
		xlog.WithEngine(func() xlog.Engine { return eng }),
	)
	assert.Equal(t, 1, eng.Len(), "只有控制台 sink")

	log := h.Logger()
	log.Debug(t.Context(), "filtered before engine")
	log.Info(t.Context(), "x")
	assert.Equal(t, int64(1), eng.emits.Load())

	require.NoError(t, h.Apply(xlog.Settings{LogPath: t.TempDir()}))
	assert.Equal(t, 2, eng.Len(), "旧 sink 被移除，新增文件 sink")
}

func TestHandle_ConcurrentEmitAndApply(t *testing.T) {
	var console syncBuffer
	h := newHandle(t, "app", xlog.DefaultSettings(), xlog.WithConsole(&console))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := h.Logger().With(slog.Int("worker", i))
			for range 200 {
				assert.NoError(t, log.Log(t.Context(), xlog.LevelWarn, "tick"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := range 50 {
			lvl := xlog.LevelInfo
			if j%2 == 0 {
				lvl = xlog.LevelDebug
			}
			assert.NoError(t, h.Apply(xlog.Settings{Level: lvl}))
		}
	}()
	wg.Wait()

	assert.Equal(t, 800, strings.Count(console.String(), "msg=tick"), "WARN 在任何设置下都输出，不丢失")
	assert.Zero(t, h.ErrorCount())
}
