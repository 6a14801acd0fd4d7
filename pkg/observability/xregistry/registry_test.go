package xregistry_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xmetrics"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
)

// =============================================================================
// 测试辅助
// =============================================================================

func newRegistry(t *testing.T, opts ...xregistry.Option) *xregistry.Registry {
	t.Helper()
	opts = append([]xregistry.Option{xregistry.WithHandleOptions(xlog.WithConsole(io.Discard))}, opts...)
	reg, err := xregistry.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })
	return reg
}

func newHandle(t *testing.T, reg *xregistry.Registry, name string) *xlog.Handle {
	t.Helper()
	h, err := reg.NewHandle(name, xlog.DefaultSettings())
	require.NoError(t, err)
	return h
}

// collector 收集通知
type collector struct {
	mu  sync.Mutex
	got []xregistry.Notification
}

func (c *collector) add(n xregistry.Notification) {
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
}

func (c *collector) all() []xregistry.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]xregistry.Notification(nil), c.got...)
}

func (c *collector) events() []string {
	var out []string
	for _, n := range c.all() {
		out = append(out, fmt.Sprintf("%s:%s", n.Event, n.Name))
	}
	return out
}

func subscribeAll(reg *xregistry.Registry) *collector {
	c := &collector{}
	reg.Subscribe(xregistry.AllNames, c.add)
	return c
}

func isClosed(t *testing.T, h *xlog.Handle) bool {
	t.Helper()
	return h.Logger().Log(t.Context(), xlog.LevelError, "probe") != nil
}

// =============================================================================
// 注册与替换
// =============================================================================

func TestRegister_Validation(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Register("", newHandle(t, reg, "x"))
	assert.ErrorIs(t, err, xregistry.ErrEmptyName)
	_, err = reg.Register("x", nil)
	assert.ErrorIs(t, err, xregistry.ErrNilHandle)
	_, _, err = reg.Upsert("", xlog.DefaultSettings())
	assert.ErrorIs(t, err, xregistry.ErrEmptyName)
}

func TestRegister_NewAndReplace(t *testing.T) {
	reg := newRegistry(t)
	c := subscribeAll(reg)
	h1, h2 := newHandle(t, reg, "app"), newHandle(t, reg, "app")

	e, err := reg.Register("app", h1, xregistry.WithOwner("cfg-a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Generation)
	assert.Same(t, h1, reg.Get("app"))

	e, err = reg.Register("app", h2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Generation)
	assert.Equal(t, "cfg-a", e.Owner, "未指定所有者时沿用")
	assert.Same(t, h2, reg.Get("app"))

	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"registered:app", "registered:app", "updated:app"}, c.events())
	assert.Same(t, h2, got[2].Handle)
	assert.Same(t, h1, got[2].Previous)
	assert.Equal(t, uint64(2), got[2].Generation)

	assert.True(t, isClosed(t, h1), "被替换的 Handle 在通知后关闭")
	assert.False(t, isClosed(t, h2))
}

func TestRegister_SameHandleIsUpdate(t *testing.T) {
	reg := newRegistry(t)
	c := subscribeAll(reg)
	h := newHandle(t, reg, "app")

	_, err := reg.Register("app", h)
	require.NoError(t, err)
	e, err := reg.Register("app", h)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e.Generation)
	assert.Equal(t, uint64(1), e.Revision)
	assert.Equal(t, []string{"registered:app", "updated:app"}, c.events())
	assert.False(t, isClosed(t, h))
}

func TestUpsert(t *testing.T) {
	reg := newRegistry(t)
	c := subscribeAll(reg)

	e, prev, err := reg.Upsert("app", xlog.DefaultSettings(), xregistry.WithOwner("a"))
	require.NoError(t, err)
	assert.Nil(t, prev)
	h := e.Handle

	e, prev, err = reg.Upsert("app", xlog.Settings{Level: xlog.LevelError}, xregistry.WithOwner("b"))
	require.NoError(t, err)
	assert.Equal(t, "a", prev)
	assert.Equal(t, "b", e.Owner)
	assert.Same(t, h, e.Handle, "原地更新，身份不变")
	assert.Equal(t, uint64(1), e.Revision)
	assert.Equal(t, xlog.LevelError, reg.Get("app").Settings().Level)

	_, _, err = reg.Upsert("app", xlog.Settings{Rotation: "never ever"})
	assert.ErrorIs(t, err, xlog.ErrInvalidSetting)
	assert.Equal(t, []string{"registered:app", "updated:app"}, c.events(), "失败的更新不产生事件")
}

func TestUpdateSettings(t *testing.T) {
	reg := newRegistry(t)
	err := reg.UpdateSettings("missing", xlog.DefaultSettings())
	assert.ErrorIs(t, err, xregistry.ErrNotFound)

	_, _, err = reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	h := reg.Get("app")
	c := subscribeAll(reg)

	require.NoError(t, reg.UpdateSettings("app", xlog.Settings{Level: xlog.LevelDebug}))
	assert.Same(t, h, reg.Get("app"))
	assert.Equal(t, xlog.LevelDebug, h.Settings().Level)

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, xregistry.EventUpdated, got[0].Event)
	assert.Equal(t, uint64(1), got[0].Revision)
}

func TestUpdateSettings_IfOwner(t *testing.T) {
	reg := newRegistry(t)
	_, _, err := reg.Upsert("app", xlog.DefaultSettings(), xregistry.WithOwner("a"))
	require.NoError(t, err)

	err = reg.UpdateSettings("app", xlog.Settings{Level: xlog.LevelError}, xregistry.IfOwner("b"))
	assert.ErrorIs(t, err, xregistry.ErrNotOwner)
	assert.Equal(t, xlog.LevelInfo, reg.Get("app").Settings().Level, "非所有者不能覆盖")

	require.NoError(t, reg.UpdateSettings("app", xlog.Settings{Level: xlog.LevelError}, xregistry.IfOwner("a")))
	assert.Equal(t, xlog.LevelError, reg.Get("app").Settings().Level)
}

func TestUnregister(t *testing.T) {
	reg := newRegistry(t)
	_, _, err := reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	h := reg.Get("app")

	var usable bool
	reg.Subscribe("app", func(n xregistry.Notification) {
		if n.Event == xregistry.EventUnregistered {
			usable = !isClosed(t, n.Handle)
		}
	})

	require.NoError(t, reg.Unregister("app"))
	assert.True(t, usable, "通知送达时 Handle 仍可用")
	assert.True(t, isClosed(t, h))
	assert.Nil(t, reg.Get("app"))
	assert.ErrorIs(t, reg.Unregister("app"), xregistry.ErrNotFound)

	// 注销后再注册，Generation 继续递增
	e, _, err := reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Generation)
}

func TestLookupNamesLen(t *testing.T) {
	reg := newRegistry(t)
	for _, n := range []string{"c", "a", "b"} {
		_, _, err := reg.Upsert(n, xlog.DefaultSettings(), xregistry.WithOwner(n+"-owner"))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
	assert.Equal(t, 3, reg.Len())

	e, ok := reg.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "b-owner", e.Owner)
	_, ok = reg.Lookup("zzz")
	assert.False(t, ok)
}

// =============================================================================
// 订阅
// =============================================================================

func TestSubscribe_NameAndWildcardOrder(t *testing.T) {
	reg := newRegistry(t)
	var mu sync.Mutex
	var order []string
	record := func(tag string) xregistry.Subscriber {
		return func(xregistry.Notification) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}
	reg.Subscribe(xregistry.AllNames, record("all-1"))
	reg.Subscribe("app", record("app"))
	reg.Subscribe("other", record("other"))
	id := reg.Subscribe(xregistry.AllNames, record("all-2"))
	assert.Zero(t, reg.Subscribe("app", nil))

	_, _, err := reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{"all-1", "app", "all-2"}, order, "按订阅顺序调用")

	assert.True(t, reg.Unsubscribe(xregistry.AllNames, id))
	assert.False(t, reg.Unsubscribe(xregistry.AllNames, id))
	order = nil
	require.NoError(t, reg.UpdateSettings("app", xlog.DefaultSettings()))
	assert.Equal(t, []string{"all-1", "app"}, order)
}

func TestSubscribe_PanicIsolated(t *testing.T) {
	var logs bytes.Buffer
	reg := newRegistry(t, xregistry.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	reg.Subscribe("app", func(xregistry.Notification) { panic("boom") })
	c := &collector{}
	reg.Subscribe("app", c.add)

	_, _, err := reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	assert.Len(t, c.all(), 1, "后续订阅者仍被调用")
	assert.Contains(t, logs.String(), "subscriber panic recovered")
}

func TestSubscribe_Reentrant(t *testing.T) {
	reg := newRegistry(t)
	c := &collector{}
	reg.Subscribe(xregistry.AllNames, func(n xregistry.Notification) {
		c.add(n)
		if n.Name == "a" && n.Event == xregistry.EventRegistered {
			_, _, err := reg.Upsert("b", xlog.DefaultSettings())
			assert.NoError(t, err)
			assert.NotNil(t, reg.Get("b"), "回调内的变更立即生效")
		}
	})

	_, _, err := reg.Upsert("a", xlog.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{"registered:a", "registered:b"}, c.events())
}

func TestBatch(t *testing.T) {
	reg := newRegistry(t)
	c := subscribeAll(reg)

	b := reg.Batch()
	_, _, err := reg.Upsert("a", xlog.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, reg.UpdateSettings("a", xlog.Settings{Level: xlog.LevelWarn}))
	assert.Empty(t, c.all(), "提交前不投递")
	assert.Equal(t, xlog.LevelWarn, reg.Get("a").Settings().Level, "变更立即生效")

	b.Commit()
	assert.Equal(t, []string{"registered:a", "updated:a"}, c.events())
	b.Commit()
	assert.Len(t, c.all(), 2)
}

func TestConcurrentUpdatesOrdered(t *testing.T) {
	reg := newRegistry(t)
	var mu sync.Mutex
	revisions := map[string][]uint64{}
	reg.Subscribe(xregistry.AllNames, func(n xregistry.Notification) {
		mu.Lock()
		revisions[n.Name] = append(revisions[n.Name], n.Revision)
		mu.Unlock()
	})

	names := []string{"a", "b"}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				name := names[(i+j)%len(names)]
				_, _, err := reg.Upsert(name, xlog.Settings{Level: xlog.Levels()[j%7]})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, name := range names {
		revs := revisions[name]
		total += len(revs)
		require.NotEmpty(t, revs)
		assert.Equal(t, uint64(0), revs[0], "registered 先于任何 updated")
		for k := 1; k < len(revs); k++ {
			assert.Equal(t, revs[k-1]+1, revs[k], "通知顺序与变更顺序一致")
		}
	}
	assert.Equal(t, 160, total)
}

// failWriter 写入总是失败
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOnErrorReentersRegistryDuringUpdates(t *testing.T) {
	var (
		reg   *xregistry.Registry
		calls atomic.Int32
	)
	reg = newRegistry(t, xregistry.WithHandleOptions(
		xlog.WithConsole(failWriter{}),
		xlog.WithOnError(func(error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			_ = reg.Get("other")
			_ = reg.UpdateSettings("app", xlog.Settings{Level: xlog.LevelDebug})
		}),
	))
	e, _, err := reg.Upsert("app", xlog.DefaultSettings())
	require.NoError(t, err)
	h := e.Handle

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 20 {
			_ = h.Emit(context.Background(), xlog.LevelError, 0, "lost")
		}
	}()
	go func() {
		defer wg.Done()
		for range 20 {
			assert.NoError(t, reg.UpdateSettings("app", xlog.Settings{Level: xlog.LevelInfo}))
		}
	}()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit 与 UpdateSettings 互相等待")
	}
	assert.Positive(t, calls.Load())
	assert.Same(t, h, reg.Get("app"), "原地更新不替换 Handle")
}

// gateEngine 第一次 armed 之后的 AddSink 阻塞到 release 关闭
type gateEngine struct {
	*xlog.SinkEngine
	armed   *atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (e gateEngine) AddSink(s xlog.Sink) xlog.SinkID {
	if e.armed.CompareAndSwap(true, false) {
		close(e.entered)
		<-e.release
	}
	return e.SinkEngine.AddSink(s)
}

func TestGetNotBlockedBySlowApply(t *testing.T) {
	var armed atomic.Bool
	entered, release := make(chan struct{}), make(chan struct{})
	reg := newRegistry(t, xregistry.WithHandleOptions(xlog.WithEngine(func() xlog.Engine {
		return gateEngine{SinkEngine: xlog.NewSinkEngine(), armed: &armed, entered: entered, release: release}
	})))
	_, _, err := reg.Upsert("slow", xlog.DefaultSettings())
	require.NoError(t, err)
	_, _, err = reg.Upsert("fast", xlog.DefaultSettings())
	require.NoError(t, err)

	armed.Store(true)
	done := make(chan error, 1)
	go func() { done <- reg.UpdateSettings("slow", xlog.Settings{Level: xlog.LevelWarn}) }()
	<-entered

	assert.NotNil(t, reg.Get("fast"), "Apply 期间读取不等待")
	assert.Equal(t, []string{"fast", "slow"}, reg.Names())
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, xlog.LevelWarn, reg.Get("slow").Settings().Level)
}

// =============================================================================
// 关闭
// =============================================================================

func TestShutdown(t *testing.T) {
	reg, err := xregistry.New(xregistry.WithHandleOptions(xlog.WithConsole(io.Discard)), xregistry.WithWorkers(1, 8))
	require.NoError(t, err)
	c := subscribeAll(reg)

	dir := t.TempDir()
	var handles []*xlog.Handle
	for _, n := range []string{"c", "a", "b"} {
		e, _, err := reg.Upsert(n, xlog.Settings{LogPath: dir, Rotation: "1 day"})
		require.NoError(t, err)
		e.Handle.Logger().Info(t.Context(), "bye")
		handles = append(handles, e.Handle)
	}
	c.mu.Lock()
	c.got = nil
	c.mu.Unlock()

	require.NoError(t, reg.Shutdown(context.Background()))
	assert.Equal(t, []string{"unregistered:a", "unregistered:b", "unregistered:c"}, c.events())
	for _, h := range handles {
		assert.True(t, isClosed(t, h))
	}
	assert.Zero(t, reg.Len())

	_, _, err = reg.Upsert("x", xlog.DefaultSettings())
	assert.ErrorIs(t, err, xregistry.ErrClosed)
	_, err = reg.Register("x", nil)
	assert.ErrorIs(t, err, xregistry.ErrNilHandle)
	assert.ErrorIs(t, reg.Unregister("a"), xregistry.ErrClosed)
	assert.ErrorIs(t, reg.UpdateSettings("a", xlog.DefaultSettings()), xregistry.ErrClosed)
	assert.ErrorIs(t, reg.Shutdown(context.Background()), xregistry.ErrClosed)
}

func TestNewHandle_UsesRegistryOptions(t *testing.T) {
	var out bytes.Buffer
	reg := newRegistry(t, xregistry.WithHandleOptions(xlog.WithConsole(&out)))
	h, err := reg.NewHandle("svc", xlog.DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	h.Logger().Info(t.Context(), "via registry")
	assert.Contains(t, out.String(), "logger=svc")
	assert.Nil(t, reg.Get("svc"), "NewHandle 不注册")
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	rec, err := xmetrics.NewRecorder(xmetrics.WithMeterProvider(mp))
	require.NoError(t, err)

	reg := newRegistry(t, xregistry.WithRecorder(rec))
	_, _, err = reg.Upsert("a", xlog.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, reg.UpdateSettings("a", xlog.DefaultSettings()))
	require.NoError(t, reg.UpdateSettings("a", xlog.DefaultSettings()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "xlogkit.registry.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("event"))
				counts[v.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"registered": 1, "updated": 2}, counts)
}
