package xrotate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlogkit/pkg/util/xpool"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// errorSink 收集 OnError 上报的错误
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func mustWrite(t *testing.T, r Rotator, s string) {
	t.Helper()
	n, err := r.Write([]byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

// =============================================================================
// 构造
// =============================================================================

func TestNewFileValidation(t *testing.T) {
	_, err := NewFile("")
	assert.ErrorIs(t, err, ErrEmptyFilename)

	_, err = NewFile(filepath.Join(t.TempDir(), "a.log"), WithFileMode(os.ModeDir|0o644))
	assert.ErrorIs(t, err, ErrInvalidFileMode)

	_, err = NewFile(filepath.Join(t.TempDir(), "a.log"), WithArchiveTemplate("x/{name}"))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestNewFileCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "app.log")
	r, err := NewFile(path)
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "hello\n")
	assert.Equal(t, "hello\n", readFile(t, path))
}

// =============================================================================
// 时间轮转
// =============================================================================

func TestFileRotatesAtMidnightIntoCoveredDay(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 23, 58, 0, 0, time.Local))
	r, err := NewFile(filepath.Join(dir, "app.log"),
		WithPolicy(MustParsePolicy("1 day")),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "late night\n")
	clock.Set(time.Date(2025, 1, 14, 0, 0, 5, 0, time.Local))
	mustWrite(t, r, "new day\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"[app]20250113.log", "app.log"}, dirNames(t, dir))
	assert.Equal(t, "late night\n", readFile(t, filepath.Join(dir, "[app]20250113.log")))
	assert.Equal(t, "new day\n", readFile(t, filepath.Join(dir, "app.log")))

	info, err := os.Stat(filepath.Join(dir, "[app]20250113.log"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Date(2025, 1, 14, 0, 0, 5, 0, time.Local)), "修改时间为覆盖区间结束时间")
}

func TestFileNoRotationWithinPeriod(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 10, 0, 0, 0, time.Local))
	r, err := NewFile(filepath.Join(dir, "app.log"), WithPolicy(MustParsePolicy("daily")), WithClock(clock.Now))
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "a\n")
	clock.Set(time.Date(2025, 1, 13, 23, 59, 59, 0, time.Local))
	mustWrite(t, r, "b\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"app.log"}, dirNames(t, dir))
}

func TestFileRestartKeepsCoveredRange(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(live, []byte("yesterday\n"), 0o600))
	mt := time.Date(2025, 1, 12, 10, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(live, mt, mt))

	clock := newFakeClock(time.Date(2025, 1, 13, 9, 0, 0, 0, time.Local))
	r, err := NewFile(live, WithPolicy(MustParsePolicy("daily")), WithClock(clock.Now))
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "today\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, "yesterday\n", readFile(t, filepath.Join(dir, "[app]20250112.log")))
	assert.Equal(t, "today\n", readFile(t, live))
}

// =============================================================================
// 大小轮转与冲突编号
// =============================================================================

func TestFileSizeRotationWithCollisions(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 8, 0, 0, 0, time.UTC))
	r, err := NewFile(filepath.Join(dir, "app.log"),
		WithPolicy(MustParsePolicy("100 B")),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	defer r.Close()

	line := string(bytes.Repeat([]byte("x"), 59)) + "\n"
	for range 3 {
		mustWrite(t, r, line)
	}
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{
		"[app]20250113-080000.log",
		"[app]20250113-080000_1.log",
		"app.log",
	}, dirNames(t, dir))
	assert.Equal(t, line, readFile(t, filepath.Join(dir, "app.log")))
}

func TestFileOversizedRecordIsWritten(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFile(filepath.Join(dir, "app.log"), WithPolicy(MustParsePolicy("10 B")))
	require.NoError(t, err)
	defer r.Close()

	big := string(bytes.Repeat([]byte("y"), 64))
	mustWrite(t, r, big)
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"app.log"}, dirNames(t, dir), "空文件写入超大记录不轮转")
	assert.Equal(t, big, readFile(t, filepath.Join(dir, "app.log")))
}

func TestFileManualRotate(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 8, 0, 0, 0, time.UTC))
	r, err := NewFile(filepath.Join(dir, "svc.log"), WithName("api"), WithClock(clock.Now))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Rotate(), "空文件手动轮转不报错")
	require.NoError(t, r.Sync())
	assert.Equal(t, []string{"svc.log"}, dirNames(t, dir), "空文件不产生归档")

	mustWrite(t, r, "payload\n")
	require.NoError(t, r.Rotate())
	require.NoError(t, r.Sync())
	assert.Equal(t, []string{"[api]20250113-080000.log", "svc.log"}, dirNames(t, dir))
}

// =============================================================================
// 压缩与保留
// =============================================================================

func TestFileCompressesArchive(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 12, 0, 0, 0, time.Local))
	r, err := NewFile(filepath.Join(dir, "app.log"),
		WithPolicy(MustParsePolicy("daily")),
		WithCodec(zstdCodec{}),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "compress me\n")
	clock.Set(time.Date(2025, 1, 14, 0, 0, 1, 0, time.Local))
	mustWrite(t, r, "next\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"[app]20250113.log.zst", "app.log"}, dirNames(t, dir), "暂存文件已删除")

	var out bytes.Buffer
	_, err = Decompress(filepath.Join(dir, "[app]20250113.log.zst"), &out)
	require.NoError(t, err)
	assert.Equal(t, "compress me\n", out.String())
}

func TestFileRetentionKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)
	clock := newFakeClock(start)
	r, err := NewFile(filepath.Join(dir, "app.log"),
		WithPolicy(MustParsePolicy("daily")),
		WithRetention(Retention{MaxCount: 3}),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	defer r.Close()

	for i := range 6 {
		clock.Set(start.AddDate(0, 0, i))
		mustWrite(t, r, fmt.Sprintf("day %d\n", i))
	}
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{
		"[app]20250103.log",
		"[app]20250104.log",
		"[app]20250105.log",
		"app.log",
	}, dirNames(t, dir))
}

// =============================================================================
// 故障处理
// =============================================================================

func TestFileRenameFailureKeepsWritingAndTripsBreaker(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "app.log")
	sink := &errorSink{}
	r, err := NewFile(live,
		WithPolicy(MustParsePolicy("10 B")),
		WithBreaker(2, time.Hour),
		WithOnError(sink.add),
	)
	require.NoError(t, err)
	defer r.Close()

	var attempts int
	fr := r.(*fileRotator)
	fr.cfg.rename = func(_, _ string) error {
		attempts++
		return os.ErrPermission
	}

	for range 5 {
		mustWrite(t, r, "12345678\n")
	}
	require.NoError(t, r.Sync())

	assert.Equal(t, 2, attempts, "熔断后不再尝试改名")
	assert.Equal(t, string(bytes.Repeat([]byte("12345678\n"), 5)), readFile(t, live), "所有记录写入原文件")

	errs := sink.all()
	require.Len(t, errs, 3, "两次失败加一次熔断通知")
	assert.ErrorIs(t, errs[0], os.ErrPermission)
	assert.ErrorIs(t, errs[1], ErrRotationSuspended, "熔断通知先于触发熔断的那次失败")
	assert.ErrorIs(t, errs[2], os.ErrPermission)
	assert.ErrorIs(t, r.Rotate(), ErrRotationSuspended)
}

func TestFileCompressionFailureFallsBackToPlain(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Date(2025, 1, 13, 12, 0, 0, 0, time.Local))
	sink := &errorSink{}
	r, err := NewFile(filepath.Join(dir, "app.log"),
		WithPolicy(MustParsePolicy("daily")),
		WithCodec(failingCodec{}),
		WithClock(clock.Now),
		WithOnError(sink.add),
	)
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "plain\n")
	clock.Set(time.Date(2025, 1, 14, 0, 0, 0, 0, time.Local))
	mustWrite(t, r, "next\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"[app]20250113.log", "app.log"}, dirNames(t, dir))
	assert.Equal(t, "plain\n", readFile(t, filepath.Join(dir, "[app]20250113.log")))
	require.Len(t, sink.all(), 1)
	assert.ErrorIs(t, sink.all()[0], errCodecBroken)
}

func TestFileRecoversStagedFile(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, ".app.log.1736700000000000000"+stagedSuffix)
	require.NoError(t, os.WriteFile(staged, []byte("left over\n"), 0o600))
	mt := time.Date(2025, 1, 10, 18, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(staged, mt, mt))

	clock := newFakeClock(time.Date(2025, 1, 13, 9, 0, 0, 0, time.Local))
	r, err := NewFile(filepath.Join(dir, "app.log"), WithPolicy(MustParsePolicy("daily")), WithClock(clock.Now))
	require.NoError(t, err)
	defer r.Close()

	mustWrite(t, r, "fresh\n")
	require.NoError(t, r.Sync())

	assert.Equal(t, []string{"[app]20250110.log", "app.log"}, dirNames(t, dir))
	assert.Equal(t, "left over\n", readFile(t, filepath.Join(dir, "[app]20250110.log")))
}

// gatedDispatcher 在 gate 关闭前挂起全部任务
type gatedDispatcher struct{ gate chan struct{} }

func (d gatedDispatcher) Submit(task func()) error {
	go func() {
		<-d.gate
		task()
	}()
	return nil
}

func TestFileHandoverSkipsLiveStagedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	clock := newFakeClock(time.Date(2025, 1, 13, 9, 0, 0, 0, time.Local))
	gate := make(chan struct{})

	prev, err := NewFile(path, WithPolicy(MustParsePolicy("daily")), WithClock(clock.Now),
		WithDispatcher(gatedDispatcher{gate: gate}))
	require.NoError(t, err)
	mustWrite(t, prev, "before\n")
	require.NoError(t, prev.Rotate(), "归档任务挂起，暂存文件留在目录中")

	// 同一路径上的新轮转器在旧轮转器归档完成前打开
	var sink errorSink
	next, err := NewFile(path, WithPolicy(MustParsePolicy("daily")), WithClock(clock.Now),
		WithCodec(gzipCodec{}), WithOnError(sink.add))
	require.NoError(t, err)
	mustWrite(t, next, "after\n")
	require.NoError(t, next.Sync())

	close(gate)
	require.NoError(t, prev.Close())
	require.NoError(t, next.Close())

	var archives []string
	for _, name := range dirNames(t, dir) {
		if name != "app.log" {
			archives = append(archives, name)
		}
	}
	require.Len(t, archives, 1, "暂存文件只归档一次")
	assert.NotContains(t, archives[0], ".gz", "由旧轮转器按旧设置归档")
	assert.Equal(t, "before\n", readFile(t, filepath.Join(dir, archives[0])))
	assert.Equal(t, "after\n", readFile(t, path))
	assert.Empty(t, sink.all())
}

func TestStagedOwner(t *testing.T) {
	assert.Equal(t, "abc-123", stagedOwner("app.log", ".app.log.abc-123.1736700000000000000-1"+stagedSuffix))
	assert.Equal(t, "1736700000000000000", stagedOwner("app.log", ".app.log.1736700000000000000"+stagedSuffix),
		"旧格式的暂存文件没有存活的所有者")
}

// =============================================================================
// 调度与生命周期
// =============================================================================

func TestFileUsesDispatcher(t *testing.T) {
	dir := t.TempDir()
	pool, err := xpool.New(1, 4, xpool.RunFunc)
	require.NoError(t, err)
	defer pool.Close()

	r, err := NewFile(filepath.Join(dir, "app.log"), WithPolicy(MustParsePolicy("10 B")), WithDispatcher(pool))
	require.NoError(t, err)

	mustWrite(t, r, "123456789\n")
	mustWrite(t, r, "abc\n")
	require.NoError(t, r.Close())

	archives, err := ListArchives(dir, r.(*fileRotator).isArchive)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "123456789\n", readFile(t, archives[0].Path))
}

func TestFileClose(t *testing.T) {
	r, err := NewFile(filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	mustWrite(t, r, "x\n")

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), ErrClosed)
	_, err = r.Write([]byte("y"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Rotate(), ErrClosed)
}

func TestFileConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFile(filepath.Join(dir, "app.log"), WithPolicy(MustParsePolicy("1 KB")))
	require.NoError(t, err)

	const writers, perWriter = 8, 100
	line := "0123456789abcdef\n"
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				_, _ = r.Write([]byte(line))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, r.Close())

	var total int
	for _, name := range dirNames(t, dir) {
		total += len(readFile(t, filepath.Join(dir, name)))
	}
	assert.Equal(t, writers*perWriter*len(line), total, "轮转不丢失数据")
}

// failingCodec 写入即失败的压缩算法
type failingCodec struct{ noneCodec }

var errCodecBroken = errors.New("codec broken")

func (failingCodec) Name() string { return "broken" }
func (failingCodec) Ext() string  { return ".broken" }
func (failingCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nil, errCodecBroken
}
