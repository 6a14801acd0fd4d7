package xlogconf

import "errors"

var (
	// ErrNilRegistry 未提供注册表
	ErrNilRegistry = errors.New("xlogconf: registry is required")

	// ErrNilParent 继承的父配置为 nil
	ErrNilParent = errors.New("xlogconf: parent config is required")

	// ErrUnknownPreset 未知的轮转预设
	ErrUnknownPreset = errors.New("xlogconf: unknown preset")

	// ErrUnknownTemplate 未知的环境模板
	ErrUnknownTemplate = errors.New("xlogconf: unknown template")

	// ErrUnsupportedFormat 不支持的文档格式
	ErrUnsupportedFormat = errors.New("xlogconf: unsupported document format")

	// ErrParseFailed 文档解析失败
	ErrParseFailed = errors.New("xlogconf: failed to parse document")

	// ErrEmptyPath 文档路径为空
	ErrEmptyPath = errors.New("xlogconf: empty document path")
)
