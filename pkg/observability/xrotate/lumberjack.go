package xrotate

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/omeyang/xlogkit/pkg/util/xfile"
)

const bytesPerMB = 1024 * 1024

// lumberjackRotator 原生轮转模式：按大小轮转，备份命名与清理交给 lumberjack
//
// 原生模式不支持时间策略、命名模板和 gzip 以外的压缩，
// 能否用原生模式表达一组设置由 [NativeOptions] 判断。
type lumberjackRotator struct {
	logger   *lumberjack.Logger
	path     string
	fileMode os.FileMode // 0 表示不调整
	onError  func(error)
	mu       sync.Mutex // 保护 ensureFileMode 的 Stat+Chmod

	closed atomic.Bool

	// 设计决策: 用累计写入字节数判断 lumberjack 是否可能已自动轮转，
	// 避免每次 Write 都 Stat。超过 maxSizeBytes 后重新检查权限。
	modeApplied  atomic.Bool
	maxSizeBytes int64
	bytesWritten atomic.Int64

	// 可注入的系统调用，仅用于测试
	statFn  func(string) (os.FileInfo, error)
	chmodFn func(string, os.FileMode) error
}

// NewLumberjack 创建原生模式轮转器
//
// 参数:
//   - filename: 日志文件路径（必需）
//   - opts: WithMaxSize / WithMaxBackups / WithMaxAge / WithCompress / WithLocalTime / WithFileMode / WithOnError
//
// 会规范化路径并创建缺失的父目录（权限 0750）。
func NewLumberjack(filename string, opts ...Option) (Rotator, error) {
	if filename == "" {
		return nil, ErrEmptyFilename
	}
	cfg := newConfig(opts)
	if err := validateNativeConfig(&cfg); err != nil {
		return nil, err
	}

	safePath, err := xfile.SanitizePath(filename)
	if err != nil {
		return nil, err
	}
	if err := xfile.EnsureDir(safePath); err != nil {
		return nil, err
	}

	return &lumberjackRotator{
		logger: &lumberjack.Logger{
			Filename:   safePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		},
		path:         safePath,
		fileMode:     cfg.FileMode,
		onError:      cfg.OnError,
		maxSizeBytes: int64(cfg.MaxSizeMB) * bytesPerMB,
	}, nil
}

// NativeOptions 把轮转、保留与压缩设置转换为原生模式选项
//
// 原生模式只能表达：按大小轮转、gzip 或不压缩、非零的保留策略。
// 大小按 MiB 向上取整，保留时长按天向上取整。
// 其他组合返回 [ErrNativeUnsupported]。
func NativeOptions(policy Policy, retention Retention, codec Codec) ([]Option, error) {
	if !policy.IsSize() {
		return nil, fmt.Errorf("%w: rotation %q is not size based", ErrNativeUnsupported, policy.String())
	}
	compress := false
	if codec != nil {
		switch codec.Name() {
		case "none":
		case "gz":
			compress = true
		default:
			return nil, fmt.Errorf("%w: compression %q", ErrNativeUnsupported, codec.Name())
		}
	}
	if retention.IsZero() {
		return nil, fmt.Errorf("%w: retention is required", ErrNativeUnsupported)
	}

	mb := int((policy.MaxBytes() + bytesPerMB - 1) / bytesPerMB)
	days := 0
	if retention.MaxAge > 0 {
		days = int((retention.MaxAge + day - 1) / day)
	}
	return []Option{
		WithMaxSize(mb),
		WithMaxBackups(retention.MaxCount),
		WithMaxAge(days),
		WithCompress(compress),
		WithLocalTime(true),
	}, nil
}

// validateNativeConfig 校验原生模式配置
func validateNativeConfig(cfg *config) error {
	if cfg.MaxSizeMB <= 0 || cfg.MaxSizeMB > maxSizeMB {
		return fmt.Errorf("%w: got %d, want 1~%d", ErrInvalidMaxSize, cfg.MaxSizeMB, maxSizeMB)
	}
	if cfg.MaxBackups < 0 || cfg.MaxBackups > maxBackups {
		return fmt.Errorf("%w: got %d, want 0~%d", ErrInvalidMaxBackups, cfg.MaxBackups, maxBackups)
	}
	if cfg.MaxAgeDays < 0 || cfg.MaxAgeDays > maxAgeDays {
		return fmt.Errorf("%w: got %d, want 0~%d", ErrInvalidMaxAge, cfg.MaxAgeDays, maxAgeDays)
	}
	if cfg.MaxBackups == 0 && cfg.MaxAgeDays == 0 {
		return fmt.Errorf("%w: MaxBackups and MaxAgeDays cannot both be 0", ErrNoCleanupPolicy)
	}
	return validateFileMode(cfg.FileMode)
}

// Write 实现 io.Writer 接口
func (r *lumberjackRotator) Write(p []byte) (n int, err error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}

	n, err = r.logger.Write(p)
	if err != nil {
		// Write 通过前置检查后 Close 可能已完成，统一返回 ErrClosed
		if r.closed.Load() {
			return n, ErrClosed
		}
		return n, err
	}

	if r.fileMode != 0 {
		needCheck := !r.modeApplied.Load()
		if !needCheck && r.maxSizeBytes > 0 && r.bytesWritten.Add(int64(n)) >= r.maxSizeBytes {
			needCheck = true
		}
		if needCheck {
			r.reportError(r.ensureFileMode())
		}
	}
	return n, nil
}

// ensureFileMode 确保日志文件具有期望的权限
func (r *lumberjackRotator) ensureFileMode() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat := r.statFn
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // lumberjack 延迟创建
		}
		return err
	}

	if info.Mode().Perm() != r.fileMode {
		chmod := r.chmodFn
		if chmod == nil {
			chmod = os.Chmod
		}
		//#nosec G302 -- 日志文件权限由调用方配置决定
		if err := chmod(r.path, r.fileMode); err != nil {
			return err
		}
	}
	r.modeApplied.Store(true)
	r.bytesWritten.Store(0)
	return nil
}

func (r *lumberjackRotator) reportError(err error) {
	if err != nil && r.onError != nil {
		defer func() { recover() }() //nolint:errcheck // recover 返回值无需检查
		r.onError(err)
	}
}

// Close 实现 io.Closer 接口，重复调用返回 [ErrClosed]
func (r *lumberjackRotator) Close() error {
	if r.closed.Swap(true) {
		return ErrClosed
	}
	return r.logger.Close()
}

// Rotate 手动触发轮转
func (r *lumberjackRotator) Rotate() error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.logger.Rotate(); err != nil {
		if r.closed.Load() {
			return ErrClosed
		}
		return err
	}
	if r.fileMode != 0 {
		// 新文件使用 lumberjack 默认权限 0600
		r.modeApplied.Store(false)
		r.bytesWritten.Store(0)
		r.reportError(r.ensureFileMode())
	}
	return nil
}

// Sync lumberjack 直接写文件描述符且不暴露 Sync，这里无需操作
func (r *lumberjackRotator) Sync() error {
	if r.closed.Load() {
		return ErrClosed
	}
	return nil
}
