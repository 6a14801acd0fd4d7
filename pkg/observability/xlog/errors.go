package xlog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSetting 日志设置非法，所有校验错误都包装此错误
	ErrInvalidSetting = errors.New("xlog: invalid setting")

	// ErrUnknownLevel 无法识别的日志级别
	ErrUnknownLevel = errors.New("xlog: unknown level")

	// ErrUnknownFormat 无法识别的输出格式
	ErrUnknownFormat = errors.New("xlog: unknown format")

	// ErrClosed Handle 已关闭
	ErrClosed = errors.New("xlog: handle is closed")

	// ErrEmptyName Handle 名称为空
	ErrEmptyName = errors.New("xlog: handle name is required")
)

// SettingError 描述单个字段的校验失败
//
// errors.Is 同时匹配 [ErrInvalidSetting] 与底层原因（如 xrotate.ErrInvalidRotation）。
type SettingError struct {
	Field string
	Value string
	Err   error
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("xlog: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap 返回 [ErrInvalidSetting] 与底层原因
func (e *SettingError) Unwrap() []error {
	return []error{ErrInvalidSetting, e.Err}
}

func settingError(field, value string, err error) error {
	return &SettingError{Field: field, Value: value, Err: err}
}
