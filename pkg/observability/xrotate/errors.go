package xrotate

import "errors"

// 配置校验错误
var (
	// ErrEmptyFilename 文件名为空
	ErrEmptyFilename = errors.New("xrotate: filename is required")

	// ErrInvalidRotation 轮转策略无法解析或取值非法（如 "0 MB"、"3 weeks"）
	ErrInvalidRotation = errors.New("xrotate: invalid rotation policy")

	// ErrInvalidRetention 保留策略无法解析或取值非法
	ErrInvalidRetention = errors.New("xrotate: invalid retention policy")

	// ErrUnknownCompression 未注册的压缩算法
	ErrUnknownCompression = errors.New("xrotate: unknown compression")

	// ErrInvalidTemplate 文件名模板非法（如活动文件名包含时间占位符）
	ErrInvalidTemplate = errors.New("xrotate: invalid file name template")

	// ErrInvalidMaxSize MaxSizeMB 值无效（必须在 1~10240 范围内）
	ErrInvalidMaxSize = errors.New("xrotate: invalid MaxSizeMB")

	// ErrInvalidMaxBackups MaxBackups 值无效（必须在 0~1024 范围内）
	ErrInvalidMaxBackups = errors.New("xrotate: invalid MaxBackups")

	// ErrInvalidMaxAge MaxAgeDays 值无效（必须在 0~3650 范围内）
	ErrInvalidMaxAge = errors.New("xrotate: invalid MaxAgeDays")

	// ErrNoCleanupPolicy MaxBackups 和 MaxAgeDays 不能同时为 0
	ErrNoCleanupPolicy = errors.New("xrotate: no cleanup policy configured")

	// ErrNativeUnsupported 原生（lumberjack）模式无法表达的配置
	ErrNativeUnsupported = errors.New("xrotate: unsupported by native rotation")

	// ErrInvalidFileMode FileMode 包含非权限位（仅允许低 9 位 0000~0777）
	ErrInvalidFileMode = errors.New("xrotate: invalid FileMode")
)

// 运行时错误
var (
	// ErrClosed 轮转器已关闭
	ErrClosed = errors.New("xrotate: rotator is closed")

	// ErrRotationSuspended 连续轮转失败后熔断，当前文件继续原地写入
	ErrRotationSuspended = errors.New("xrotate: rotation suspended after repeated failures")
)
