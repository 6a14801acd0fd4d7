package xlog

import "log/slog"

// =============================================================================
// 常用属性 Key 常量
// =============================================================================

const (
	// KeyLogger 每条记录自动携带的 logger 名称
	KeyLogger = "logger"

	// KeyError 错误字段的标准 key
	KeyError = "error"

	// KeyCount 计数字段的标准 key
	KeyCount = "count"

	// KeyPath 文件路径字段的标准 key
	KeyPath = "path"
)

// =============================================================================
// 便捷属性构造函数
// =============================================================================

// Err 创建错误属性，err 为 nil 时返回空属性（会被 slog 忽略）
//
//	if err != nil {
//	    logger.Error(ctx, "rotate failed", xlog.Err(err))
//	}
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Count 创建计数属性
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// Path 创建文件路径属性
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}
