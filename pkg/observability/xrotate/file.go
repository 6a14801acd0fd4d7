package xrotate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xlogkit/pkg/util/xfile"
)

// stagedSuffix 待归档暂存文件的后缀
const stagedSuffix = ".rotating"

// liveOwners 本进程内尚未关闭的轮转器 ID
//
// 暂存文件名带有创建它的轮转器 ID，打开时只补做所有者已不存在的暂存文件，
// 同一路径上新旧两个轮转器交接期间，旧轮转器正在归档的文件不会被重复归档。
var liveOwners sync.Map

// rotation 一次待完成的归档任务
type rotation struct {
	staged  string
	start   time.Time
	end     time.Time
	trigger Trigger
}

// fileRotator 基于 Namer 的轮转器
//
// 写路径上只做两件事：判断是否触发，以及一次 rename 把活动文件改为暂存文件。
// 归档改名、压缩、设置修改时间和保留清理都在后台完成。
// 任何文件系统步骤失败都只上报错误，活动文件继续原地写入。
type fileRotator struct {
	owner string
	path  string
	dir   string
	base  string
	namer *Namer
	cfg   config

	breaker *gobreaker.CircuitBreaker[struct{}]

	mu    sync.Mutex
	file  *os.File
	size  int64
	start time.Time // 当前活动文件覆盖区间的起点
	next  time.Time // 下一个时间边界，非时间策略为零值
	seq   uint64    // 暂存文件序号，同一时刻多次轮转也不重名

	finishMu sync.Mutex // 串行化后台任务，保证冲突编号不重复
	jobs     sync.WaitGroup
	closed   atomic.Bool
}

// NewFile 创建基于命名模板的日志轮转器
//
// 参数:
//   - filename: 活动文件路径（固定名称，轮转后重新创建）
//   - opts: 策略、保留、压缩、命名模板及运行时协作者
//
// 活动文件在首次写入时打开。已存在的活动文件会被追加，
// 其覆盖区间的起点取文件修改时间，因此重启后直到真正跨越边界才会轮转。
// 上次异常退出遗留的暂存文件会在打开时补做归档。
func NewFile(filename string, opts ...Option) (Rotator, error) {
	if filename == "" {
		return nil, ErrEmptyFilename
	}
	cfg := newConfig(opts)
	if err := validateFileMode(cfg.FileMode); err != nil {
		return nil, err
	}

	safePath, err := xfile.SanitizePath(filename)
	if err != nil {
		return nil, err
	}
	if err := xfile.EnsureDir(safePath); err != nil {
		return nil, err
	}

	base := filepath.Base(safePath)
	name := cfg.name
	if name == "" {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	namer, err := NewNamer(name, cfg.policy, cfg.archiveTemplate, cfg.codec)
	if err != nil {
		return nil, err
	}

	r := &fileRotator{
		owner: uuid.NewString(),
		path:  safePath,
		dir:   filepath.Dir(safePath),
		base:  base,
		namer: namer,
		cfg:   cfg,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "xrotate:" + safePath,
		MaxRequests: 1,
		Timeout:     cfg.breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.breakerThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				r.report(fmt.Errorf("%w: %s", ErrRotationSuspended, base))
			case gobreaker.StateClosed:
				if from == gobreaker.StateHalfOpen {
					r.report(fmt.Errorf("xrotate: rotation of %s resumed", base))
				}
			}
		},
	})
	liveOwners.Store(r.owner, struct{}{})
	return r, nil
}

// Namer 返回归档命名器
func (r *fileRotator) Namer() *Namer {
	return r.namer
}

// Write 实现 io.Writer 接口
func (r *fileRotator) Write(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Close 先置标记再取锁，这里再检查一次保证关闭后不会重新打开文件
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if r.file == nil {
		if err := r.openLocked(); err != nil {
			return 0, err
		}
	}

	now := r.cfg.clock()
	if trigger, ok := r.triggerLocked(now, int64(len(p))); ok {
		// 失败已经上报，继续写当前文件
		_ = r.rotateLocked(now, trigger)
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Rotate 手动触发轮转，空文件不产生归档
func (r *fileRotator) Rotate() error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}
	if r.file == nil {
		if err := r.openLocked(); err != nil {
			return err
		}
	}
	return r.rotateLocked(r.cfg.clock(), TriggerManual)
}

// Sync 刷盘并等待已排队的后台任务完成
func (r *fileRotator) Sync() error {
	r.mu.Lock()
	var err error
	if r.file != nil {
		err = r.file.Sync()
	}
	r.mu.Unlock()
	r.jobs.Wait()
	return err
}

// Close 关闭活动文件并等待后台任务完成
func (r *fileRotator) Close() error {
	if r.closed.Swap(true) {
		return ErrClosed
	}
	r.mu.Lock()
	var err error
	if r.file != nil {
		err = r.file.Close()
		r.file = nil
	}
	r.mu.Unlock()
	r.jobs.Wait()
	liveOwners.Delete(r.owner)
	return err
}

// openLocked 打开（或创建）活动文件
func (r *fileRotator) openLocked() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, r.cfg.fileMode()) //#nosec G304 -- 路径已经过 SanitizePath
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	now := r.cfg.clock()
	r.file = f
	r.size = info.Size()
	r.start = now
	if r.size > 0 {
		r.start = info.ModTime().In(now.Location())
	}
	r.next = r.cfg.policy.Next(r.start)
	r.recoverStagedLocked()
	return nil
}

// triggerLocked 判断本次写入前是否需要轮转
func (r *fileRotator) triggerLocked(now time.Time, incoming int64) (Trigger, bool) {
	if !r.next.IsZero() && !now.Before(r.next) {
		return TriggerTime, true
	}
	if r.cfg.policy.Exceeds(r.size, incoming) {
		return TriggerSize, true
	}
	return "", false
}

// rotateLocked 把活动文件改名为暂存文件、重新创建活动文件并派发归档任务
func (r *fileRotator) rotateLocked(now time.Time, trigger Trigger) error {
	if r.size == 0 {
		// 空文件没有可归档的内容，只推进时间边界
		r.start = now
		r.next = r.cfg.policy.Next(now)
		return nil
	}

	r.seq++
	staged := filepath.Join(r.dir, fmt.Sprintf(".%s.%s.%d-%d%s", r.base, r.owner, now.UnixNano(), r.seq, stagedSuffix))
	_, err := r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, r.cfg.rename(r.path, staged)
	})
	if err != nil {
		// 推进时间边界，避免同一周期内每次写入都重试
		r.next = r.cfg.policy.Next(now)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// 熔断状态变化时已上报，这里不再逐次上报
			return fmt.Errorf("%w: %w", ErrRotationSuspended, err)
		}
		err = fmt.Errorf("xrotate: rotate %s: %w", r.base, err)
		r.report(err)
		r.cfg.recorder.Rotation(context.Background(), r.namer.Name(), string(trigger), 0, err)
		return err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, r.cfg.fileMode()) //#nosec G304 -- 同上
	if err != nil {
		// 新文件无法创建时把暂存文件改回原名，继续写原来的文件描述符
		err = fmt.Errorf("xrotate: reopen %s: %w", r.base, err)
		if backErr := r.cfg.rename(staged, r.path); backErr != nil {
			err = errors.Join(err, backErr)
		}
		r.next = r.cfg.policy.Next(now)
		r.report(err)
		return err
	}

	job := rotation{staged: staged, start: r.start, end: now, trigger: trigger}
	if cerr := r.file.Close(); cerr != nil {
		r.report(fmt.Errorf("xrotate: close %s: %w", r.base, cerr))
	}
	r.file = f
	r.size = 0
	r.start = now
	r.next = r.cfg.policy.Next(now)
	r.dispatch(job)
	return nil
}

// recoverStagedLocked 为上次异常退出遗留的暂存文件补做归档
//
// 所有者仍存活的暂存文件由所有者自己完成，这里跳过。
func (r *fileRotator) recoverStagedLocked() {
	matches, err := filepath.Glob(filepath.Join(r.dir, "."+globEscape(r.base)+".*"+stagedSuffix))
	if err != nil {
		return
	}
	for _, staged := range matches {
		if _, live := liveOwners.Load(stagedOwner(r.base, filepath.Base(staged))); live {
			continue
		}
		info, err := os.Stat(staged)
		if err != nil {
			continue
		}
		end := info.ModTime()
		r.dispatch(rotation{staged: staged, start: end, end: end, trigger: TriggerManual})
	}
}

// dispatch 把归档任务交给调度器，调度器不可用时启动独立 goroutine
func (r *fileRotator) dispatch(job rotation) {
	r.jobs.Add(1)
	task := func() {
		defer r.jobs.Done()
		r.finish(job)
	}
	if d := r.cfg.dispatcher; d != nil && d.Submit(task) == nil {
		return
	}
	go task()
}

// finish 在后台完成归档：命名、压缩、设置修改时间、保留清理
func (r *fileRotator) finish(job rotation) {
	r.finishMu.Lock()
	defer r.finishMu.Unlock()

	began := time.Now()
	err := r.archive(job)
	if err != nil {
		err = fmt.Errorf("xrotate: archive %s: %w", r.base, err)
		r.report(err)
	}
	r.sweep(job.end)
	r.cfg.recorder.Rotation(context.Background(), r.namer.Name(), string(job.trigger), time.Since(began), err)
}

// archive 把暂存文件变为最终归档
//
// 压缩失败时退化为未压缩归档；改名失败时暂存文件保留，下次打开时重试。
func (r *fileRotator) archive(job rotation) error {
	ref := r.namer.ReferenceTime(job.start, job.end)
	codec := r.namer.Codec()

	var compressErr error
	if codec.Ext() != "" {
		dst := r.freePath(ref)
		compressErr = CompressFile(job.staged, dst, codec, r.cfg.fileMode())
		if compressErr == nil {
			if err := os.Remove(job.staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
				r.report(fmt.Errorf("xrotate: remove staged %s: %w", filepath.Base(job.staged), err))
			}
			return stamp(dst, job.end)
		}
	}

	dst := r.freePath(ref)
	if codec.Ext() != "" {
		dst = strings.TrimSuffix(dst, codec.Ext())
	}
	err := retry.New(
		retry.Attempts(r.cfg.renameAttempts),
		retry.Delay(r.cfg.renameDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, fs.ErrNotExist) }),
	).Do(func() error {
		return r.cfg.rename(job.staged, dst)
	})
	if err != nil {
		return errors.Join(compressErr, err)
	}
	return errors.Join(compressErr, stamp(dst, job.end))
}

// freePath 返回一个未被占用的归档路径（含压缩扩展名）
//
// 同一编号的压缩与未压缩形式任一存在都视为占用。
func (r *fileRotator) freePath(ref time.Time) string {
	for seq := 0; ; seq++ {
		plain := filepath.Join(r.dir, r.namer.candidate(ref, seq, false))
		packed := filepath.Join(r.dir, r.namer.candidate(ref, seq, true))
		if !exists(plain) && !exists(packed) {
			return packed
		}
	}
}

// sweep 执行保留清理
func (r *fileRotator) sweep(now time.Time) {
	if r.cfg.retention.IsZero() {
		return
	}
	removed, err := Sweep(r.dir, r.isArchive, r.cfg.retention, now)
	if err != nil {
		r.report(fmt.Errorf("xrotate: retention sweep in %s: %w", r.dir, err))
	}
	r.cfg.recorder.ArchivesRemoved(context.Background(), r.namer.Name(), len(removed))
}

// isArchive 判断目录项是否为本轮转器的归档，活动文件除外
func (r *fileRotator) isArchive(name string) bool {
	return name != r.base && r.namer.Match(name)
}

// report 通过回调上报内部错误，回调 panic 被隔离
func (r *fileRotator) report(err error) {
	if err != nil && r.cfg.OnError != nil {
		defer func() { recover() }() //nolint:errcheck // recover 返回值无需检查
		r.cfg.OnError(err)
	}
}

// stamp 把归档修改时间设置为覆盖区间的结束时间，保留策略据此排序
func stamp(path string, end time.Time) error {
	return os.Chtimes(path, end, end)
}

// stagedOwner 从暂存文件名 ".{base}.{owner}.{nanos}-{seq}.rotating" 中取出所有者 ID
func stagedOwner(base, name string) string {
	rest := strings.TrimPrefix(name, "."+base+".")
	owner, _, _ := strings.Cut(rest, ".")
	return owner
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// globEscape 转义 filepath.Glob 的元字符
func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
