package xproxy

import "errors"

var (
	// ErrUnresolved 名称没有已注册的 logger（仅 [PolicyError] 返回）
	ErrUnresolved = errors.New("xproxy: logger not configured")

	// ErrNilRegistry 未提供注册表
	ErrNilRegistry = errors.New("xproxy: registry is required")

	// ErrInvalidCapacity 提示记忆容量非法
	ErrInvalidCapacity = errors.New("xproxy: warn capacity must be positive")
)
